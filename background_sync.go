package schemaregistry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tryfix/errors"
)

// Start imports the registered subjects once and then keeps looking for new versions every
// interval until ctx is done. Newly created versions are registered without a restart.
func (s *SubjectSync) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return NewError(KindConfiguration, `subjectSync.Start`, fmt.Sprintf(`invalid sync interval %s`, interval))
	}

	if _, err := s.Run(ctx); err != nil {
		return err
	}

	s.Print()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug(`New schema check background routine stopped`)
				return
			case <-ticker.C:
				added, err := s.Run(ctx)
				if err != nil {
					s.logger.Error(fmt.Sprintf(`Looking for new schemas failed due to %s`, err))
				}
				if added > 0 {
					s.Print()
				}
			}
		}
	}()

	s.logger.Debug(`New schema check background routine started`)

	return nil
}

// Run imports the selected versions of every registered subject that were not imported yet and
// returns the number of versions added. A version that fails to import is retried on the next
// run and the first failure is returned after all subjects were visited.
func (s *SubjectSync) Run(ctx context.Context) (int, error) {
	s.logger.Debug(`Looking for new schemas...`)
	added := 0
	defer func() {
		s.logger.Debug(fmt.Sprintf(`Looking for new schemas completed, %d schema/s added`, added))
	}()

	subjects, err := s.source.GetSubjects()
	if err != nil {
		return 0, WrapError(KindServiceUnavailable, `subjectSync.Run`, errors.WithPrevious(err, `get subjects failed`), ``)
	}
	sort.Strings(subjects)

	var firstErr error
	for _, name := range subjects {
		// only registered subjects are imported, not the entire registry
		sub, ok := s.lookupSubject(name)
		if !ok {
			continue
		}

		n, err := s.importSubject(ctx, sub)
		added += n
		if err != nil {
			s.logger.Error(fmt.Sprintf(`Importing subject [%s] failed due to %s`, name, err))
			if firstErr == nil {
				firstErr = err
			}
		}

		if ctx.Err() != nil {
			return added, WrapError(KindServiceUnavailable, `subjectSync.Run`, ctx.Err(), ``)
		}
	}

	return added, firstErr
}

func (s *SubjectSync) importSubject(ctx context.Context, sub *subject) (int, error) {
	versions, err := s.source.GetSchemaVersions(sub.name)
	if err != nil {
		return 0, WrapError(KindServiceUnavailable, `subjectSync.importSubject`, errors.WithPrevious(err, `get schema versions failed`), sub.name)
	}
	sort.Ints(versions)

	if sub.version == SubjectVersionLatest && len(versions) > 0 {
		versions = versions[len(versions)-1:]
	}

	added := 0
	for _, version := range versions {
		if !sub.version.selects(version) || s.hasVersion(sub, version) {
			continue
		}

		schema, err := s.source.GetSchemaByVersion(sub.name, version)
		if err != nil {
			return added, WrapError(KindServiceUnavailable, `subjectSync.importSubject`,
				errors.WithPrevious(err, `get schema by version failed`), fmt.Sprintf(`%s:%d`, sub.name, version))
		}

		info, err := schemaInfo(sub.name, schema)
		if err != nil {
			return added, err
		}

		v, err := s.client.RegisterSchema(ctx, sub.group, info)
		if err != nil {
			return added, err
		}

		s.markImported(sub, version, v)
		added++

		s.logger.Info(fmt.Sprintf(`New schema registered. %s:%d as %s in group [%s]`, sub.name, version, v, sub.group))
	}

	return added, nil
}
