/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/riferrei/srclient"
	"github.com/tryfix/log"
	schemaregistry "github.com/tryfix/schemaregistry/v3"
	"github.com/tryfix/schemaregistry/v3/storage"
	"github.com/tryfix/schemaregistry/v3/storage/pgtable"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := log.NewLog().Log(log.WithLevel(log.TRACE))

	// entries live in memory unless a postgres connection string is given
	var table storage.Table = storage.NewMemoryTable(0)
	if dsn := os.Getenv(`REGISTRY_POSTGRES_DSN`); dsn != `` {
		pg, err := pgtable.Connect(ctx, dsn, pgtable.WithLogger(logger))
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()
		table = pg
	}

	registry, err := storage.NewRegistry(table, storage.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}

	if err := registry.CreateGroup(ctx, `com.org.events`, storage.GroupProperties{
		Format:             schemaregistry.Avro,
		AllowMultipleTypes: true,
	}); err != nil && !errors.Is(err, schemaregistry.ErrGroupExists) {
		log.Fatal(err)
	}

	// import subjects of a confluent registry into the group and keep watching for new versions
	sync := schemaregistry.NewSubjectSync(
		srclient.CreateSchemaRegistryClient(`http://localhost:8081/`),
		registry,
		schemaregistry.WithLogger(logger),
	)

	if err := sync.Register(`com.org.events.test.TestTwo`, schemaregistry.SubjectVersionAll, `com.org.events`); err != nil {
		log.Fatal(err)
	}

	if err := sync.Start(ctx, 10*time.Second); err != nil {
		log.Fatal(err)
	}

	logger.Info(`your events are successfully registered`)

	<-ctx.Done()

	if err := registry.Print(context.Background(), `com.org.events`); err != nil {
		log.Fatal(err)
	}
}
