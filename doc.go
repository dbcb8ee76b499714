/*
Package schemaregistry implements schema aware serializers and deserializers for events tagged
with a registry issued encoding id.

Every event starts with a five byte header, a protocol version followed by the big endian
encoding id. An encoding id stands for a (schema version, codec) pair of a group, so readers
resolve the writer schema and the payload transform from the header alone.

# Features
  - Avro, Protobuf, Json and custom serialization formats
  - None, GZip, Snappy and pluggable custom codecs
  - Typed, multi type, generic and typed-or-generic deserializers
  - A concurrent encoding cache with a single registry call per missing id
  - Storage backed registry (package storage) over an in-memory or PostgreSQL table
  - Imports subjects of a Confluent compatible registry and registers new versions in the background

See the format documentation for how payloads are encoded.

Avro: http://avro.apache.org/docs/current/

Protobuf: https://protobuf.dev/programming-guides/encoding/
*/

package schemaregistry
