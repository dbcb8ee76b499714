package schemaregistry

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/riferrei/srclient"
	"github.com/tryfix/log"
)

// SubjectVersion selects which versions of a Confluent subject are imported
type SubjectVersion int

const (
	//SubjectVersionLatest imports the latest version of the subject on every pass
	SubjectVersionLatest SubjectVersion = -1
	//SubjectVersionAll imports every version of the subject
	SubjectVersionAll SubjectVersion = -2
)

// String returns the version selection
func (v SubjectVersion) String() string {
	if v == SubjectVersionLatest {
		return `Latest`
	}

	if v == SubjectVersionAll {
		return `All`
	}

	return fmt.Sprint(int(v))
}

func (v SubjectVersion) selects(version int) bool {
	return v == SubjectVersionAll || v == SubjectVersionLatest || int(v) == version
}

// Properties attached to schemas imported from a Confluent registry.
const (
	PropertyConfluentSubject = `confluent.subject`
	PropertyConfluentVersion = `confluent.version`
	PropertyConfluentID      = `confluent.id`
)

// ConfluentClient is the read side of a Confluent compatible registry client.
// *srclient.SchemaRegistryClient and *srclient.MockSchemaRegistryClient satisfy it.
type ConfluentClient interface {
	GetSubjects() ([]string, error)
	GetSchemaVersions(subject string) ([]int, error)
	GetSchemaByVersion(subject string, version int) (*srclient.Schema, error)
}

// subject binds a Confluent subject to the group its versions are imported into
type subject struct {
	name     string
	version  SubjectVersion
	group    string
	imported map[int]VersionInfo // confluent version -> imported version
}

// SubjectSync imports schema versions of registered Confluent subjects into groups
type SubjectSync struct {
	source   ConfluentClient
	client   Client
	subjects map[string]*subject
	mu       sync.RWMutex
	logger   log.Logger
}

// NewSubjectSync returns a sync reading from source and registering through client
func NewSubjectSync(source ConfluentClient, client Client, opts ...Option) *SubjectSync {
	o := newOptions(opts...)

	return &SubjectSync{
		source:   source,
		client:   client,
		subjects: make(map[string]*subject),
		logger:   o.logger.NewLog(log.Prefixed(`SubjectSync`)),
	}
}

// Register adds subject to the sync. Selected versions are registered into group on the next pass.
func (s *SubjectSync) Register(name string, version SubjectVersion, group string) error {
	if name == `` || group == `` {
		return NewError(KindConfiguration, `subjectSync.Register`, `subject and group are required`)
	}

	if version < SubjectVersionAll || version == 0 {
		return NewError(KindConfiguration, `subjectSync.Register`, fmt.Sprintf(`invalid version [%s] for subject [%s]`, version, name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subjects[name]; ok {
		s.logger.Warn(fmt.Sprintf(`subject [%s][%s] already registred, replacing with [%s] into group [%s]`, name, sub.version, version, group))
	}

	s.subjects[name] = &subject{
		name:     name,
		version:  version,
		group:    group,
		imported: make(map[int]VersionInfo),
	}

	s.logger.Info(fmt.Sprintf(`subject [%s][%s] registred for group [%s]`, name, version, group))

	return nil
}

// Imported returns the version a Confluent subject version was imported as
func (s *SubjectSync) Imported(name string, version int) (VersionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subjects[name]
	if !ok {
		return VersionInfo{}, false
	}

	v, ok := sub.imported[version]
	return v, ok
}

func (s *SubjectSync) lookupSubject(name string) (*subject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subjects[name]
	return sub, ok
}

func (s *SubjectSync) hasVersion(sub *subject, version int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := sub.imported[version]
	return ok
}

func (s *SubjectSync) markImported(sub *subject, version int, v VersionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.imported[version] = v
}

// schemaInfo converts a Confluent schema into the schema registered into the group
func schemaInfo(subjectName string, schema *srclient.Schema) (SchemaInfo, error) {
	info := SchemaInfo{
		Type:   subjectName,
		Format: Avro,
		Schema: []byte(schema.Schema()),
		Properties: map[string]string{
			PropertyConfluentSubject: subjectName,
			PropertyConfluentVersion: strconv.Itoa(schema.Version()),
			PropertyConfluentID:      strconv.Itoa(schema.ID()),
		},
	}

	if t := schema.SchemaType(); t != nil {
		switch *t {
		case srclient.Protobuf:
			info.Format = Protobuf
			return info, nil
		case srclient.Json:
			info.Format = JSON
			return info, nil
		}
	}

	avroSchema, err := parseAvro(schema.Schema())
	if err != nil {
		return SchemaInfo{}, WrapError(KindSchemaValidationFailed, `subjectSync.schemaInfo`, err,
			fmt.Sprintf(`subject [%s] version [%d] is not a valid avro schema`, subjectName, schema.Version()))
	}
	info.Type = avroTypeName(avroSchema)

	return info, nil
}

// Print logs the imported versions as a table
func (s *SubjectSync) Print() {
	s.mu.RLock()
	names := make([]string, 0, len(s.subjects))
	for name := range s.subjects {
		names = append(names, name)
	}
	sort.Strings(names)

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`subject`, `selection`, `group`, `confluent version`, `type`, `version`, `schema id`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)
	for _, name := range names {
		sub := s.subjects[name]
		versions := make([]int, 0, len(sub.imported))
		for v := range sub.imported {
			versions = append(versions, v)
		}
		sort.Ints(versions)

		for _, v := range versions {
			imported := sub.imported[v]
			table.Append([]string{
				name,
				sub.version.String(),
				sub.group,
				fmt.Sprint(v),
				imported.Type,
				fmt.Sprint(imported.Version),
				fmt.Sprint(imported.ID),
			})
		}
	}
	s.mu.RUnlock()

	table.Render()
	s.logger.Info(fmt.Sprintf("imported schemas\n%s", b.String()))
}
