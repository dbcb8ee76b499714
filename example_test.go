package schemaregistry_test

import (
	"context"
	"fmt"

	"github.com/tryfix/log"
	sr "github.com/tryfix/schemaregistry/v3"
	"github.com/tryfix/schemaregistry/v3/storage"
)

func Example_avro() {
	ctx := context.Background()

	// an in-memory registry, storage.NewRegistry accepts any storage.Table
	registry, err := storage.NewRegistry(storage.NewMemoryTable(0))
	if err != nil {
		log.Fatal(err)
	}

	if err := registry.CreateGroup(ctx, `payments`, storage.GroupProperties{
		Format:             sr.Avro,
		AllowMultipleTypes: true,
	}); err != nil {
		log.Fatal(err)
	}

	type SampleRecord struct {
		Field1 int     `avro:"field1"`
		Field2 float64 `avro:"field2"`
		Field3 string  `avro:"field3"`
	}

	schema, err := sr.NewAvroSchema(SampleRecord{}, `{
		"type": "record",
		"name": "SampleRecord",
		"namespace": "com.mycorp.mynamespace",
		"fields": [
			{"name": "field1", "type": "int"},
			{"name": "field2", "type": "double"},
			{"name": "field3", "type": "string"}
		]
	}`, nil)
	if err != nil {
		log.Fatal(err)
	}

	cfg := sr.NewConfig(`payments`, registry, sr.WithCodec(sr.SnappyCodec))

	serializer, err := sr.NewSerializer(ctx, cfg, schema)
	if err != nil {
		log.Fatal(err)
	}

	// Encode the message
	bytePayload, err := serializer.Serialize(SampleRecord{Field1: 1, Field2: 2.0, Field3: "text"})
	if err != nil {
		panic(err)
	}

	deserializer, err := sr.NewDeserializer(cfg, schema)
	if err != nil {
		log.Fatal(err)
	}

	// Decode the message
	ev, err := deserializer.Deserialize(ctx, bytePayload) // Returns SampleRecord
	if err != nil {
		panic(err)
	}

	fmt.Printf("%+v", ev)
	// Output: {Field1:1 Field2:2 Field3:text}
}

func Example_generic() {
	ctx := context.Background()

	registry, err := storage.NewRegistry(storage.NewMemoryTable(0))
	if err != nil {
		log.Fatal(err)
	}

	if err := registry.CreateGroup(ctx, `refunds`, storage.GroupProperties{Format: sr.JSON}); err != nil {
		log.Fatal(err)
	}

	type Refund struct {
		OrderID string `json:"order_id"`
	}

	schema, err := sr.NewJSONSchema(`refund`, Refund{}, ``, nil)
	if err != nil {
		log.Fatal(err)
	}

	cfg := sr.NewConfig(`refunds`, registry, sr.WithCodec(sr.GZipCodec))

	serializer, err := sr.NewSerializer(ctx, cfg, schema)
	if err != nil {
		log.Fatal(err)
	}

	bytePayload, err := serializer.Serialize(Refund{OrderID: `o-1`})
	if err != nil {
		panic(err)
	}

	deserializer, err := sr.NewGenericDeserializer(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ev, err := deserializer.Deserialize(ctx, bytePayload) // Returns map[string]interface{}
	if err != nil {
		panic(err)
	}

	fmt.Printf("%v", ev)
	// Output: map[order_id:o-1]
}
