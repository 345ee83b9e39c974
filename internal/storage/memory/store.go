// Package memory provides an in-memory storage implementation.
package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusreg/schemaregistry/internal/storage"
)

// DefaultContext is the default registry context name.
const DefaultContext = "."

// versionEntry records the per-subject bookkeeping for one registered
// version: which schema ID it points at, whether it has been soft-deleted,
// and the metadata/rule set that travel with this particular version rather
// than with the underlying schema content.
type versionEntry struct {
	schemaID  int64
	version   int
	deleted   bool
	createdAt time.Time
	metadata  *storage.Metadata
	ruleSet   *storage.RuleSet
}

// namespace holds all data scoped to one registry context. Each context is
// an independent universe of subjects, schema IDs, configs, and modes.
type namespace struct {
	// schemas stores deduplicated schema content by ID.
	schemas map[int64]*storage.SchemaRecord

	// versions maps subject -> version number -> version bookkeeping.
	versions map[string]map[int]*versionEntry

	// nextVersion tracks the next version number to hand out per subject.
	nextVersion map[string]int

	// fingerprints maps a content fingerprint to the schema ID sharing it.
	fingerprints map[string]int64

	// refs maps a schema ID to every subject-version registered under it.
	refs map[int64][]storage.SubjectVersion

	configs map[string]*storage.ConfigRecord
	modes   map[string]*storage.ModeRecord

	globalConfig *storage.ConfigRecord
	globalMode   *storage.ModeRecord

	nextID int64
}

func newNamespace() *namespace {
	return &namespace{
		schemas:      make(map[int64]*storage.SchemaRecord),
		versions:     make(map[string]map[int]*versionEntry),
		nextVersion:  make(map[string]int),
		fingerprints: make(map[string]int64),
		refs:         make(map[int64][]storage.SubjectVersion),
		configs:      make(map[string]*storage.ConfigRecord),
		modes:        make(map[string]*storage.ModeRecord),
		nextID:       1,
	}
}

// latest returns the highest version number not excluded by includeDeleted,
// and its entry. It returns (0, nil) when nothing qualifies.
func latest(vm map[int]*versionEntry, includeDeleted bool) (int, *versionEntry) {
	best := 0
	var bestEntry *versionEntry
	for v, e := range vm {
		if !includeDeleted && e.deleted {
			continue
		}
		if v > best {
			best = v
			bestEntry = e
		}
	}
	return best, bestEntry
}

// unlink drops a subject-version pair from refs, deleting the underlying
// schema and its fingerprint entry when no subject-version uses it anymore.
func (ns *namespace) unlink(subject string, version int, schemaID int64) {
	kept := make([]storage.SubjectVersion, 0, len(ns.refs[schemaID]))
	for _, sv := range ns.refs[schemaID] {
		if sv.Subject != subject || sv.Version != version {
			kept = append(kept, sv)
		}
	}
	if len(kept) == 0 {
		if schema := ns.schemas[schemaID]; schema != nil {
			delete(ns.fingerprints, schema.Fingerprint)
		}
		delete(ns.schemas, schemaID)
		delete(ns.refs, schemaID)
		return
	}
	ns.refs[schemaID] = kept
}

// Store implements the storage.Storage interface using in-memory data structures.
// All schema, subject, config, mode, and ID operations are scoped to a registry context.
type Store struct {
	mu sync.RWMutex

	namespaces map[string]*namespace

	users           map[int64]*storage.UserRecord
	usersByUsername map[string]int64
	nextUserID      int64

	apiKeys       map[int64]*storage.APIKeyRecord
	apiKeysByHash map[string]int64
	nextAPIKeyID  int64

	exporters        map[string]*storage.ExporterRecord
	exporterStatuses map[string]*storage.ExporterStatusRecord

	keks map[string]*storage.KEKRecord
	// deks is keyed kekName -> subject -> version.
	deks map[string]map[string]map[int]*storage.DEKRecord
}

// NewStore creates a new in-memory store with the default context initialized.
func NewStore() *Store {
	s := &Store{
		namespaces:       make(map[string]*namespace),
		users:            make(map[int64]*storage.UserRecord),
		usersByUsername:  make(map[string]int64),
		apiKeys:          make(map[int64]*storage.APIKeyRecord),
		apiKeysByHash:    make(map[string]int64),
		nextUserID:       1,
		nextAPIKeyID:     1,
		exporters:        make(map[string]*storage.ExporterRecord),
		exporterStatuses: make(map[string]*storage.ExporterStatusRecord),
		keks:             make(map[string]*storage.KEKRecord),
		deks:             make(map[string]map[string]map[int]*storage.DEKRecord),
	}
	s.namespaces[DefaultContext] = newNamespace()
	return s
}

// namespaceOrCreate returns the namespace for a context, creating it on
// first use. Must be called with s.mu held for writing.
func (s *Store) namespaceOrCreate(registryCtx string) *namespace {
	ns, ok := s.namespaces[registryCtx]
	if !ok {
		ns = newNamespace()
		s.namespaces[registryCtx] = ns
	}
	return ns
}

// namespaceOf returns the namespace for a context, or nil if it doesn't exist.
func (s *Store) namespaceOf(registryCtx string) *namespace {
	return s.namespaces[registryCtx]
}

// hydrate assembles the subject/version-scoped view of a stored schema,
// folding in the per-version metadata/rule set carried on entry. Every read
// path that returns a SchemaRecord for a specific subject+version goes
// through here so the shape stays in one place.
func hydrate(schema *storage.SchemaRecord, subject string, version int, entry *versionEntry) *storage.SchemaRecord {
	return &storage.SchemaRecord{
		ID:          schema.ID,
		Subject:     subject,
		Version:     version,
		SchemaType:  schema.SchemaType,
		Schema:      schema.Schema,
		References:  schema.References,
		Metadata:    entry.metadata,
		RuleSet:     entry.ruleSet,
		Fingerprint: schema.Fingerprint,
		Deleted:     entry.deleted,
		CreatedAt:   entry.createdAt,
	}
}

// CreateSchema stores a new schema record.
// Uses per-context fingerprint deduplication: same schema content = same ID within a context.
func (s *Store) CreateSchema(ctx context.Context, registryCtx string, record *storage.SchemaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)

	if ns.versions[record.Subject] == nil {
		ns.versions[record.Subject] = make(map[int]*versionEntry)
	}

	// Confluent behavior: same schema text + same metadata/ruleSet = duplicate
	// (return existing). Same schema text + different metadata/ruleSet = new
	// version with same global ID.
	for _, entry := range ns.versions[record.Subject] {
		if entry.deleted {
			continue
		}
		existing := ns.schemas[entry.schemaID]
		if existing == nil || existing.Fingerprint != record.Fingerprint {
			continue
		}
		if reflect.DeepEqual(normalizeMetadata(entry.metadata), normalizeMetadata(record.Metadata)) &&
			reflect.DeepEqual(normalizeRuleSet(entry.ruleSet), normalizeRuleSet(record.RuleSet)) {
			record.ID = entry.schemaID
			record.Version = entry.version
			return storage.ErrSchemaExists
		}
		// Same text, different metadata/ruleSet: fall through to a new version.
	}

	var schemaID int64
	if existingID, ok := ns.fingerprints[record.Fingerprint]; ok {
		schemaID = existingID
	} else {
		schemaID = ns.nextID
		ns.nextID++
		ns.fingerprints[record.Fingerprint] = schemaID
		ns.schemas[schemaID] = &storage.SchemaRecord{
			ID:          schemaID,
			SchemaType:  record.SchemaType,
			Schema:      record.Schema,
			References:  record.References,
			Fingerprint: record.Fingerprint,
		}
	}

	ns.nextVersion[record.Subject]++
	version := ns.nextVersion[record.Subject]

	ns.versions[record.Subject][version] = &versionEntry{
		schemaID:  schemaID,
		version:   version,
		createdAt: time.Now(),
		metadata:  record.Metadata,
		ruleSet:   record.RuleSet,
	}

	ns.refs[schemaID] = append(ns.refs[schemaID], storage.SubjectVersion{
		Subject: record.Subject,
		Version: version,
	})

	record.ID = schemaID
	record.Version = version
	record.CreatedAt = time.Now()

	return nil
}

// GetSchemaByID retrieves a schema by its ID within a context.
func (s *Store) GetSchemaByID(ctx context.Context, registryCtx string, id int64) (*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSchemaNotFound
	}

	schema, ok := ns.schemas[id]
	if !ok {
		return nil, storage.ErrSchemaNotFound
	}
	return schema, nil
}

// GetSchemaBySubjectVersion retrieves a schema by subject and version within a context.
func (s *Store) GetSchemaBySubjectVersion(ctx context.Context, registryCtx string, subject string, version int) (*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSubjectNotFound
	}

	vm := ns.versions[subject]
	if len(vm) == 0 {
		return nil, storage.ErrSubjectNotFound
	}

	if version == -1 {
		v, _ := latest(vm, false)
		if v == 0 {
			return nil, storage.ErrSubjectNotFound
		}
		version = v
	}

	entry, ok := vm[version]
	if !ok || entry.deleted {
		return nil, storage.ErrVersionNotFound
	}

	schema := ns.schemas[entry.schemaID]
	if schema == nil {
		return nil, storage.ErrSchemaNotFound
	}

	return hydrate(schema, subject, version, entry), nil
}

// GetSchemasBySubject retrieves all schemas for a subject within a context.
func (s *Store) GetSchemasBySubject(ctx context.Context, registryCtx string, subject string, includeDeleted bool) ([]*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSubjectNotFound
	}

	vm := ns.versions[subject]
	if len(vm) == 0 {
		return nil, storage.ErrSubjectNotFound
	}

	var schemas []*storage.SchemaRecord
	for version, entry := range vm {
		if !includeDeleted && entry.deleted {
			continue
		}
		if schema := ns.schemas[entry.schemaID]; schema != nil {
			schemas = append(schemas, hydrate(schema, subject, version, entry))
		}
	}

	if len(schemas) == 0 {
		return nil, storage.ErrSubjectNotFound
	}

	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Version < schemas[j].Version })
	return schemas, nil
}

// GetSchemaByFingerprint retrieves a schema by subject and fingerprint within a context.
func (s *Store) GetSchemaByFingerprint(ctx context.Context, registryCtx string, subject, fingerprint string, includeDeleted bool) (*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSubjectNotFound
	}

	vm, ok := ns.versions[subject]
	if !ok || len(vm) == 0 {
		return nil, storage.ErrSubjectNotFound
	}

	if !includeDeleted {
		active := false
		for _, entry := range vm {
			if !entry.deleted {
				active = true
				break
			}
		}
		if !active {
			return nil, storage.ErrSubjectNotFound
		}
	}

	for version, entry := range vm {
		if entry.deleted && !includeDeleted {
			continue
		}
		schema := ns.schemas[entry.schemaID]
		if schema != nil && schema.Fingerprint == fingerprint {
			return hydrate(schema, subject, version, entry), nil
		}
	}

	return nil, storage.ErrSchemaNotFound
}

// GetSchemaByGlobalFingerprint retrieves a schema by fingerprint within a context.
func (s *Store) GetSchemaByGlobalFingerprint(ctx context.Context, registryCtx string, fingerprint string) (*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSchemaNotFound
	}

	id, ok := ns.fingerprints[fingerprint]
	if !ok {
		return nil, storage.ErrSchemaNotFound
	}

	schema := ns.schemas[id]
	if schema == nil {
		return nil, storage.ErrSchemaNotFound
	}
	return schema, nil
}

// GetLatestSchema retrieves the latest schema for a subject within a context.
func (s *Store) GetLatestSchema(ctx context.Context, registryCtx string, subject string) (*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSubjectNotFound
	}

	vm := ns.versions[subject]
	if len(vm) == 0 {
		return nil, storage.ErrSubjectNotFound
	}

	version, entry := latest(vm, false)
	if entry == nil {
		return nil, storage.ErrSubjectNotFound
	}

	schema := ns.schemas[entry.schemaID]
	if schema == nil {
		return nil, storage.ErrSchemaNotFound
	}

	return hydrate(schema, subject, version, entry), nil
}

// DeleteSchema soft-deletes or permanently deletes a schema version within a context.
func (s *Store) DeleteSchema(ctx context.Context, registryCtx string, subject string, version int, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return storage.ErrSubjectNotFound
	}

	vm := ns.versions[subject]
	if len(vm) == 0 {
		return storage.ErrSubjectNotFound
	}

	entry, ok := vm[version]
	if !ok {
		return storage.ErrVersionNotFound
	}

	if permanent && !entry.deleted {
		return storage.ErrVersionNotSoftDeleted
	}

	if permanent {
		delete(vm, version)
		ns.unlink(subject, version, entry.schemaID)
	} else {
		entry.deleted = true
	}

	return nil
}

// ListSubjects returns all subject names within a context.
func (s *Store) ListSubjects(ctx context.Context, registryCtx string, includeDeleted bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return []string{}, nil
	}

	var subjects []string
	for subject, vm := range ns.versions {
		if includeDeleted {
			subjects = append(subjects, subject)
			continue
		}
		for _, entry := range vm {
			if !entry.deleted {
				subjects = append(subjects, subject)
				break
			}
		}
	}

	sort.Strings(subjects)
	return subjects, nil
}

// DeleteSubject deletes all versions of a subject within a context.
func (s *Store) DeleteSubject(ctx context.Context, registryCtx string, subject string, permanent bool) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSubjectNotFound
	}

	vm := ns.versions[subject]
	if len(vm) == 0 {
		return nil, storage.ErrSubjectNotFound
	}

	allDeleted := true
	for _, entry := range vm {
		if !entry.deleted {
			allDeleted = false
			break
		}
	}

	if permanent && !allDeleted {
		return nil, storage.ErrSubjectNotSoftDeleted
	}
	if !permanent && allDeleted {
		return nil, storage.ErrSubjectDeleted
	}

	var deleted []int
	for version, entry := range vm {
		if entry.deleted && !permanent {
			continue
		}
		deleted = append(deleted, version)

		if permanent {
			ns.unlink(subject, version, entry.schemaID)
		} else {
			entry.deleted = true
		}
	}

	sort.Ints(deleted)

	if permanent {
		delete(ns.versions, subject)
		delete(ns.nextVersion, subject)
		delete(ns.configs, subject)
		delete(ns.modes, subject)
	}

	return deleted, nil
}

// SubjectExists checks if a subject exists within a context.
func (s *Store) SubjectExists(ctx context.Context, registryCtx string, subject string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return false, nil
	}

	for _, entry := range ns.versions[subject] {
		if !entry.deleted {
			return true, nil
		}
	}
	return false, nil
}

// GetConfig retrieves the compatibility configuration for a subject within a context.
func (s *Store) GetConfig(ctx context.Context, registryCtx string, subject string) (*storage.ConfigRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrNotFound
	}
	config, ok := ns.configs[subject]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return config, nil
}

// SetConfig sets the compatibility configuration for a subject within a context.
func (s *Store) SetConfig(ctx context.Context, registryCtx string, subject string, config *storage.ConfigRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)
	config.Subject = subject
	ns.configs[subject] = config
	return nil
}

// DeleteConfig deletes the compatibility configuration for a subject within a context.
func (s *Store) DeleteConfig(ctx context.Context, registryCtx string, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return storage.ErrNotFound
	}
	if _, ok := ns.configs[subject]; !ok {
		return storage.ErrNotFound
	}
	delete(ns.configs, subject)
	return nil
}

// GetGlobalConfig retrieves the global compatibility configuration for a context.
func (s *Store) GetGlobalConfig(ctx context.Context, registryCtx string) (*storage.ConfigRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil || ns.globalConfig == nil {
		return nil, storage.ErrNotFound
	}
	return ns.globalConfig, nil
}

// SetGlobalConfig sets the global compatibility configuration for a context.
func (s *Store) SetGlobalConfig(ctx context.Context, registryCtx string, config *storage.ConfigRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)
	config.Subject = ""
	ns.globalConfig = config
	return nil
}

// DeleteGlobalConfig resets the global config to default for a context.
func (s *Store) DeleteGlobalConfig(ctx context.Context, registryCtx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil
	}
	ns.globalConfig = nil
	return nil
}

// GetMode retrieves the mode for a subject within a context.
func (s *Store) GetMode(ctx context.Context, registryCtx string, subject string) (*storage.ModeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrNotFound
	}
	mode, ok := ns.modes[subject]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return mode, nil
}

// SetMode sets the mode for a subject within a context.
func (s *Store) SetMode(ctx context.Context, registryCtx string, subject string, mode *storage.ModeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)
	mode.Subject = subject
	ns.modes[subject] = mode
	return nil
}

// DeleteMode deletes the mode for a subject within a context.
func (s *Store) DeleteMode(ctx context.Context, registryCtx string, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return storage.ErrNotFound
	}
	if _, ok := ns.modes[subject]; !ok {
		return storage.ErrNotFound
	}
	delete(ns.modes, subject)
	return nil
}

// GetGlobalMode retrieves the global mode for a context.
func (s *Store) GetGlobalMode(ctx context.Context, registryCtx string) (*storage.ModeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil || ns.globalMode == nil {
		return nil, storage.ErrNotFound
	}
	return ns.globalMode, nil
}

// SetGlobalMode sets the global mode for a context.
func (s *Store) SetGlobalMode(ctx context.Context, registryCtx string, mode *storage.ModeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)
	mode.Subject = ""
	ns.globalMode = mode
	return nil
}

// DeleteGlobalMode resets the global mode for a context by removing it.
func (s *Store) DeleteGlobalMode(ctx context.Context, registryCtx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil
	}
	ns.globalMode = nil
	return nil
}

// NextID returns the next available schema ID for a context.
func (s *Store) NextID(ctx context.Context, registryCtx string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)
	id := ns.nextID
	ns.nextID++
	return id, nil
}

// GetMaxSchemaID returns the highest schema ID currently assigned in a context.
func (s *Store) GetMaxSchemaID(ctx context.Context, registryCtx string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return 0, nil
	}
	return ns.nextID - 1, nil
}

// ImportSchema inserts a schema with a specified ID (for migration) within a context.
// Returns ErrSchemaIDConflict if the ID already exists with different content.
func (s *Store) ImportSchema(ctx context.Context, registryCtx string, record *storage.SchemaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)

	existing, idExists := ns.schemas[record.ID]
	if idExists && existing.Fingerprint != record.Fingerprint {
		return storage.ErrSchemaIDConflict
	}

	if ns.versions[record.Subject] == nil {
		ns.versions[record.Subject] = make(map[int]*versionEntry)
	}
	if _, exists := ns.versions[record.Subject][record.Version]; exists {
		return storage.ErrSchemaExists
	}

	if !idExists {
		ns.schemas[record.ID] = &storage.SchemaRecord{
			ID:          record.ID,
			SchemaType:  record.SchemaType,
			Schema:      record.Schema,
			References:  record.References,
			Fingerprint: record.Fingerprint,
		}
	}

	ns.fingerprints[record.Fingerprint] = record.ID

	ns.versions[record.Subject][record.Version] = &versionEntry{
		schemaID:  record.ID,
		version:   record.Version,
		createdAt: time.Now(),
		metadata:  record.Metadata,
		ruleSet:   record.RuleSet,
	}

	// Advance the subject version counter so future CreateSchema calls
	// don't collide with imported versions.
	if record.Version >= ns.nextVersion[record.Subject] {
		ns.nextVersion[record.Subject] = record.Version
	}

	ns.refs[record.ID] = append(ns.refs[record.ID], storage.SubjectVersion{
		Subject: record.Subject,
		Version: record.Version,
	})

	record.CreatedAt = time.Now()
	return nil
}

// SetNextID sets the ID sequence to start from the given value for a context.
// Used after import to prevent ID conflicts.
func (s *Store) SetNextID(ctx context.Context, registryCtx string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceOrCreate(registryCtx)
	ns.nextID = id
	return nil
}

// GetReferencedBy returns subjects/versions that reference the given schema within a context.
func (s *Store) GetReferencedBy(ctx context.Context, registryCtx string, subject string, version int) ([]storage.SubjectVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, nil
	}

	var refs []storage.SubjectVersion
	for subj, vm := range ns.versions {
		for ver, entry := range vm {
			if entry.deleted {
				continue
			}
			schema := ns.schemas[entry.schemaID]
			if schema == nil {
				continue
			}
			for _, ref := range schema.References {
				if ref.Subject == subject && ref.Version == version {
					refs = append(refs, storage.SubjectVersion{Subject: subj, Version: ver})
					break
				}
			}
		}
	}
	return refs, nil
}

// GetSubjectsBySchemaID returns all subjects where the given schema ID is registered within a context.
func (s *Store) GetSubjectsBySchemaID(ctx context.Context, registryCtx string, id int64, includeDeleted bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSchemaNotFound
	}
	if _, ok := ns.schemas[id]; !ok {
		return nil, storage.ErrSchemaNotFound
	}

	svs := ns.refs[id]
	if len(svs) == 0 {
		return []string{}, nil
	}

	seen := make(map[string]bool)
	for _, sv := range svs {
		if vm, ok := ns.versions[sv.Subject]; ok {
			if entry, ok := vm[sv.Version]; ok && (includeDeleted || !entry.deleted) {
				seen[sv.Subject] = true
			}
		}
	}

	subjects := make([]string, 0, len(seen))
	for subj := range seen {
		subjects = append(subjects, subj)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// GetVersionsBySchemaID returns all subject-version pairs where the given schema ID is registered within a context.
func (s *Store) GetVersionsBySchemaID(ctx context.Context, registryCtx string, id int64, includeDeleted bool) ([]storage.SubjectVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return nil, storage.ErrSchemaNotFound
	}
	if _, ok := ns.schemas[id]; !ok {
		return nil, storage.ErrSchemaNotFound
	}

	svs := ns.refs[id]
	if len(svs) == 0 {
		return []storage.SubjectVersion{}, nil
	}

	var result []storage.SubjectVersion
	for _, sv := range svs {
		if vm, ok := ns.versions[sv.Subject]; ok {
			if entry, ok := vm[sv.Version]; ok && (includeDeleted || !entry.deleted) {
				result = append(result, sv)
			}
		}
	}
	return result, nil
}

// ListSchemas returns schemas matching the given filters within a context.
func (s *Store) ListSchemas(ctx context.Context, registryCtx string, params *storage.ListSchemasParams) ([]*storage.SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaceOf(registryCtx)
	if ns == nil {
		return []*storage.SchemaRecord{}, nil
	}

	var latestBySubject map[string]int
	if params.LatestOnly {
		latestBySubject = make(map[string]int)
		for subject, vm := range ns.versions {
			if v, _ := latest(vm, params.Deleted); v > 0 {
				latestBySubject[subject] = v
			}
		}
	}

	var results []*storage.SchemaRecord
	for subject, vm := range ns.versions {
		if params.SubjectPrefix != "" {
			if len(subject) < len(params.SubjectPrefix) || subject[:len(params.SubjectPrefix)] != params.SubjectPrefix {
				continue
			}
		}

		for version, entry := range vm {
			if !params.Deleted && entry.deleted {
				continue
			}
			if params.LatestOnly && latestBySubject[subject] != version {
				continue
			}
			if schema := ns.schemas[entry.schemaID]; schema != nil {
				results = append(results, hydrate(schema, subject, version, entry))
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	if params.Offset > 0 {
		if params.Offset >= len(results) {
			return []*storage.SchemaRecord{}, nil
		}
		results = results[params.Offset:]
	}
	if params.Limit > 0 && params.Limit < len(results) {
		results = results[:params.Limit]
	}

	return results, nil
}

// ListContexts returns all registry context names, sorted alphabetically.
func (s *Store) ListContexts(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the store.
func (s *Store) Close() error { return nil }

// IsHealthy returns true if the store is healthy.
func (s *Store) IsHealthy(ctx context.Context) bool { return true }

// CreateUser creates a new user.
func (s *Store) CreateUser(ctx context.Context, user *storage.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return storage.ErrUserExists
	}
	if user.ID == 0 {
		user.ID = atomic.AddInt64(&s.nextUserID, 1) - 1
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	s.users[user.ID] = user
	s.usersByUsername[user.Username] = user.ID
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*storage.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	user := s.users[id]
	if user == nil {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

// UpdateUser updates an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *storage.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}

	if existing.Username != user.Username {
		if _, taken := s.usersByUsername[user.Username]; taken {
			return storage.ErrUserExists
		}
		delete(s.usersByUsername, existing.Username)
		s.usersByUsername[user.Username] = user.ID
	}

	user.UpdatedAt = time.Now()
	s.users[user.ID] = user
	return nil
}

// DeleteUser deletes a user by ID.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	delete(s.usersByUsername, user.Username)
	delete(s.users, id)
	return nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]*storage.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*storage.UserRecord, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// CreateAPIKey creates a new API key.
func (s *Store) CreateAPIKey(ctx context.Context, key *storage.APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apiKeysByHash[key.KeyHash]; exists {
		return storage.ErrAPIKeyExists
	}
	if key.ID == 0 {
		key.ID = atomic.AddInt64(&s.nextAPIKeyID, 1) - 1
	}
	key.CreatedAt = time.Now()

	s.apiKeys[key.ID] = key
	s.apiKeysByHash[key.KeyHash] = key.ID
	return nil
}

// GetAPIKeyByID retrieves an API key by ID.
func (s *Store) GetAPIKeyByID(ctx context.Context, id int64) (*storage.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	return key, nil
}

// GetAPIKeyByHash retrieves an API key by key hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*storage.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.apiKeysByHash[keyHash]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	key := s.apiKeys[id]
	if key == nil {
		return nil, storage.ErrAPIKeyNotFound
	}
	return key, nil
}

// UpdateAPIKey updates an existing API key.
func (s *Store) UpdateAPIKey(ctx context.Context, key *storage.APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.apiKeys[key.ID]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}

	if existing.KeyHash != key.KeyHash {
		if _, taken := s.apiKeysByHash[key.KeyHash]; taken {
			return storage.ErrAPIKeyExists
		}
		delete(s.apiKeysByHash, existing.KeyHash)
		s.apiKeysByHash[key.KeyHash] = key.ID
	}

	s.apiKeys[key.ID] = key
	return nil
}

// DeleteAPIKey deletes an API key by ID.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	delete(s.apiKeysByHash, key.KeyHash)
	delete(s.apiKeys, id)
	return nil
}

// ListAPIKeys returns all API keys.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*storage.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*storage.APIKeyRecord, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// ListAPIKeysByUserID returns all API keys for a user.
func (s *Store) ListAPIKeysByUserID(ctx context.Context, userID int64) ([]*storage.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*storage.APIKeyRecord
	for _, key := range s.apiKeys {
		if key.UserID == userID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// GetAPIKeyByUserAndName retrieves an API key by user ID and name.
func (s *Store) GetAPIKeyByUserAndName(ctx context.Context, userID int64, name string) (*storage.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.apiKeys {
		if key.UserID == userID && key.Name == name {
			return key, nil
		}
	}
	return nil, storage.ErrAPIKeyNotFound
}

// UpdateAPIKeyLastUsed updates the last_used timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	now := time.Now()
	key.LastUsed = &now
	return nil
}

// CreateExporter creates a new exporter.
func (s *Store) CreateExporter(ctx context.Context, exporter *storage.ExporterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exporters[exporter.Name]; exists {
		return storage.ErrExporterExists
	}
	now := time.Now()
	exporter.CreatedAt = now
	exporter.UpdatedAt = now
	s.exporters[exporter.Name] = exporter
	return nil
}

// GetExporter retrieves an exporter by name.
func (s *Store) GetExporter(ctx context.Context, name string) (*storage.ExporterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exporter, ok := s.exporters[name]
	if !ok {
		return nil, storage.ErrExporterNotFound
	}
	return exporter, nil
}

// UpdateExporter updates an existing exporter.
func (s *Store) UpdateExporter(ctx context.Context, exporter *storage.ExporterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.exporters[exporter.Name]
	if !ok {
		return storage.ErrExporterNotFound
	}
	exporter.CreatedAt = existing.CreatedAt
	exporter.UpdatedAt = time.Now()
	s.exporters[exporter.Name] = exporter
	return nil
}

// DeleteExporter deletes an exporter by name and its associated status.
func (s *Store) DeleteExporter(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exporters[name]; !exists {
		return storage.ErrExporterNotFound
	}
	delete(s.exporters, name)
	delete(s.exporterStatuses, name)
	return nil
}

// ListExporters returns a sorted list of all exporter names.
func (s *Store) ListExporters(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.exporters))
	for name := range s.exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetExporterStatus retrieves the status of an exporter.
// If no status has been set, returns a default status with State "PAUSED".
func (s *Store) GetExporterStatus(ctx context.Context, name string) (*storage.ExporterStatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.exporters[name]; !exists {
		return nil, storage.ErrExporterNotFound
	}
	status, ok := s.exporterStatuses[name]
	if !ok {
		return &storage.ExporterStatusRecord{Name: name, State: "PAUSED"}, nil
	}
	return status, nil
}

// SetExporterStatus sets the status of an exporter.
func (s *Store) SetExporterStatus(ctx context.Context, name string, status *storage.ExporterStatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exporters[name]; !exists {
		return storage.ErrExporterNotFound
	}
	s.exporterStatuses[name] = status
	return nil
}

// GetExporterConfig retrieves the configuration of an exporter.
// Returns a copy of the config map to prevent external mutation.
func (s *Store) GetExporterConfig(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exporter, ok := s.exporters[name]
	if !ok {
		return nil, storage.ErrExporterNotFound
	}
	cfg := make(map[string]string, len(exporter.Config))
	for k, v := range exporter.Config {
		cfg[k] = v
	}
	return cfg, nil
}

// UpdateExporterConfig updates the configuration of an exporter.
func (s *Store) UpdateExporterConfig(ctx context.Context, name string, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exporter, ok := s.exporters[name]
	if !ok {
		return storage.ErrExporterNotFound
	}
	exporter.Config = config
	exporter.UpdatedAt = time.Now()
	return nil
}

// CreateKEK creates a new Key Encryption Key.
func (s *Store) CreateKEK(ctx context.Context, kek *storage.KEKRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keks[kek.Name]; exists {
		return storage.ErrKEKExists
	}
	now := time.Now()
	kek.Ts = now.UnixMilli()
	kek.CreatedAt = now
	kek.UpdatedAt = now
	s.keks[kek.Name] = kek
	return nil
}

// GetKEK retrieves a Key Encryption Key by name.
func (s *Store) GetKEK(ctx context.Context, name string, includeDeleted bool) (*storage.KEKRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kek, ok := s.keks[name]
	if !ok || (!includeDeleted && kek.Deleted) {
		return nil, storage.ErrKEKNotFound
	}
	return kek, nil
}

// UpdateKEK updates an existing Key Encryption Key.
func (s *Store) UpdateKEK(ctx context.Context, kek *storage.KEKRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.keks[kek.Name]
	if !ok {
		return storage.ErrKEKNotFound
	}
	kek.CreatedAt = existing.CreatedAt

	now := time.Now()
	kek.Ts = now.UnixMilli()
	kek.UpdatedAt = now
	s.keks[kek.Name] = kek
	return nil
}

// DeleteKEK soft-deletes or permanently deletes a Key Encryption Key.
func (s *Store) DeleteKEK(ctx context.Context, name string, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kek, ok := s.keks[name]
	if !ok {
		return storage.ErrKEKNotFound
	}

	if permanent {
		delete(s.keks, name)
		delete(s.deks, name)
	} else {
		kek.Deleted = true
		kek.Ts = time.Now().UnixMilli()
	}
	return nil
}

// UndeleteKEK restores a soft-deleted Key Encryption Key.
func (s *Store) UndeleteKEK(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kek, ok := s.keks[name]
	if !ok || !kek.Deleted {
		return storage.ErrKEKNotFound
	}
	kek.Deleted = false
	kek.Ts = time.Now().UnixMilli()
	return nil
}

// ListKEKs returns all Key Encryption Keys, sorted by name.
func (s *Store) ListKEKs(ctx context.Context, includeDeleted bool) ([]*storage.KEKRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keks []*storage.KEKRecord
	for _, kek := range s.keks {
		if !includeDeleted && kek.Deleted {
			continue
		}
		keks = append(keks, kek)
	}
	sort.Slice(keks, func(i, j int) bool { return keks[i].Name < keks[j].Name })
	return keks, nil
}

// dekVersions returns the version map for a kekName+subject pair, or nil if
// either side is absent.
func (s *Store) dekVersions(kekName, subject string) map[int]*storage.DEKRecord {
	subjectMap := s.deks[kekName]
	if subjectMap == nil {
		return nil
	}
	return subjectMap[subject]
}

// CreateDEK creates a new Data Encryption Key under an existing KEK.
func (s *Store) CreateDEK(ctx context.Context, dek *storage.DEKRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keks[dek.KEKName]; !exists {
		return storage.ErrKEKNotFound
	}

	if s.deks[dek.KEKName] == nil {
		s.deks[dek.KEKName] = make(map[string]map[int]*storage.DEKRecord)
	}
	if s.deks[dek.KEKName][dek.Subject] == nil {
		s.deks[dek.KEKName][dek.Subject] = make(map[int]*storage.DEKRecord)
	}

	if dek.Version <= 0 {
		maxVersion := 0
		for v := range s.deks[dek.KEKName][dek.Subject] {
			if v > maxVersion {
				maxVersion = v
			}
		}
		dek.Version = maxVersion + 1
	}

	if _, exists := s.deks[dek.KEKName][dek.Subject][dek.Version]; exists {
		return storage.ErrDEKExists
	}

	dek.Ts = time.Now().UnixMilli()
	s.deks[dek.KEKName][dek.Subject][dek.Version] = dek
	return nil
}

// GetDEK retrieves a Data Encryption Key.
// If version <= 0, returns the latest version. If algorithm is non-empty, filters by it.
func (s *Store) GetDEK(ctx context.Context, kekName, subject string, version int, algorithm string, includeDeleted bool) (*storage.DEKRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vm := s.dekVersions(kekName, subject)
	if vm == nil {
		return nil, storage.ErrDEKNotFound
	}

	if version <= 0 {
		best := 0
		for v, dek := range vm {
			if !includeDeleted && dek.Deleted {
				continue
			}
			if algorithm != "" && dek.Algorithm != algorithm {
				continue
			}
			if v > best {
				best = v
			}
		}
		if best == 0 {
			return nil, storage.ErrDEKNotFound
		}
		version = best
	}

	dek, ok := vm[version]
	if !ok {
		return nil, storage.ErrDEKNotFound
	}
	if algorithm != "" && dek.Algorithm != algorithm {
		return nil, storage.ErrDEKNotFound
	}
	if !includeDeleted && dek.Deleted {
		return nil, storage.ErrDEKNotFound
	}
	return dek, nil
}

// ListDEKs returns the sorted list of unique subject names under a KEK.
func (s *Store) ListDEKs(ctx context.Context, kekName string, includeDeleted bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.keks[kekName]; !exists {
		return nil, storage.ErrKEKNotFound
	}

	subjectMap := s.deks[kekName]
	if subjectMap == nil {
		return []string{}, nil
	}

	var subjects []string
	for subject, vm := range subjectMap {
		if includeDeleted {
			subjects = append(subjects, subject)
			continue
		}
		for _, dek := range vm {
			if !dek.Deleted {
				subjects = append(subjects, subject)
				break
			}
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

// ListDEKVersions returns the sorted list of version numbers for a KEK+subject combination.
func (s *Store) ListDEKVersions(ctx context.Context, kekName, subject string, algorithm string, includeDeleted bool) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.keks[kekName]; !exists {
		return nil, storage.ErrKEKNotFound
	}

	vm := s.dekVersions(kekName, subject)
	if vm == nil {
		return []int{}, nil
	}

	var versions []int
	for v, dek := range vm {
		if !includeDeleted && dek.Deleted {
			continue
		}
		if algorithm != "" && dek.Algorithm != algorithm {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// DeleteDEK soft-deletes or permanently deletes a Data Encryption Key.
// Version -1 means delete all versions for the kekName+subject combination.
func (s *Store) DeleteDEK(ctx context.Context, kekName, subject string, version int, algorithm string, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjectMap := s.deks[kekName]
	if subjectMap == nil {
		return storage.ErrDEKNotFound
	}
	vm := subjectMap[subject]
	if vm == nil {
		return storage.ErrDEKNotFound
	}

	if version == -1 {
		found := false
		for v, dek := range vm {
			if algorithm != "" && dek.Algorithm != algorithm {
				continue
			}
			found = true
			if permanent {
				delete(vm, v)
			} else {
				dek.Deleted = true
				dek.Ts = time.Now().UnixMilli()
			}
		}
		if !found {
			return storage.ErrDEKNotFound
		}
		if permanent && len(vm) == 0 {
			delete(subjectMap, subject)
		}
		return nil
	}

	dek, ok := vm[version]
	if !ok {
		return storage.ErrDEKNotFound
	}
	if algorithm != "" && dek.Algorithm != algorithm {
		return storage.ErrDEKNotFound
	}

	if permanent {
		delete(vm, version)
		if len(vm) == 0 {
			delete(subjectMap, subject)
		}
	} else {
		dek.Deleted = true
		dek.Ts = time.Now().UnixMilli()
	}
	return nil
}

// UndeleteDEK restores a soft-deleted Data Encryption Key.
// Version -1 means undelete all deleted versions for the kekName+subject combination.
func (s *Store) UndeleteDEK(ctx context.Context, kekName, subject string, version int, algorithm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vm := s.dekVersions(kekName, subject)
	if vm == nil {
		return storage.ErrDEKNotFound
	}

	if version == -1 {
		found := false
		for _, dek := range vm {
			if algorithm != "" && dek.Algorithm != algorithm {
				continue
			}
			if dek.Deleted {
				found = true
				dek.Deleted = false
				dek.Ts = time.Now().UnixMilli()
			}
		}
		if !found {
			return storage.ErrDEKNotFound
		}
		return nil
	}

	dek, ok := vm[version]
	if !ok {
		return storage.ErrDEKNotFound
	}
	if algorithm != "" && dek.Algorithm != algorithm {
		return storage.ErrDEKNotFound
	}
	if !dek.Deleted {
		return storage.ErrDEKNotFound
	}

	dek.Deleted = false
	dek.Ts = time.Now().UnixMilli()
	return nil
}

// normalizeMetadata returns a non-nil Metadata for consistent comparison.
func normalizeMetadata(m *storage.Metadata) *storage.Metadata {
	if m == nil {
		return &storage.Metadata{}
	}
	return m
}

// normalizeRuleSet returns a non-nil RuleSet for consistent comparison.
func normalizeRuleSet(r *storage.RuleSet) *storage.RuleSet {
	if r == nil {
		return &storage.RuleSet{}
	}
	return r
}
