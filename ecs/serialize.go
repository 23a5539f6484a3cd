package ecs

import (
	"reflect"
	"slices"
	"unsafe"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

const serializationVersion = 1

// document is the serialized form of a storage. Entities are renumbered
// 0..n-1 with version 1 in iteration order; every Entity field in component
// and buffer data is written in that numbering.
type document struct {
	Version    int                 `json:"version"`
	StorageID  string              `json:"storage_id"`
	Name       string              `json:"name"`
	Entities   int                 `json:"entities"`
	Shared     []sharedValueRecord `json:"shared,omitempty"`
	Archetypes []archetypeRecord   `json:"archetypes"`
}

// sharedValueRecord holds a blittable shared value as raw bytes and any
// other shared value as JSON.
type sharedValueRecord struct {
	Type  string          `json:"type"`
	Raw   []byte          `json:"raw,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type archetypeRecord struct {
	Types  []typeRecord  `json:"types"`
	Chunks []chunkRecord `json:"chunks"`
}

type typeRecord struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Size     int    `json:"size"`
}

type chunkRecord struct {
	Count int `json:"count"`
	// Shared indexes document.Shared per shared type; -1 is the default value.
	Shared  []int          `json:"shared,omitempty"`
	Columns [][]byte       `json:"columns"`
	Buffers []bufferRecord `json:"buffers,omitempty"`
}

type bufferRecord struct {
	Column int      `json:"column"`
	Rows   [][]byte `json:"rows"`
}

// Serialize encodes every entity of s together with its components, buffers
// and shared values.
func Serialize(s *Storage) ([]byte, error) {
	if err := s.checkMainThread(); err != nil {
		return nil, err
	}
	if err := s.deps.CompleteAll(); err != nil {
		return nil, err
	}

	doc := document{
		Version:   serializationVersion,
		StorageID: s.id.String(),
		Name:      s.name,
	}

	remap := newEntityRemap(s.entities.count())
	next := int32(0)
	for _, a := range s.archetypes {
		for _, c := range a.chunks {
			for _, e := range c.entities() {
				remap.add(e, Entity{Index: next, Version: 1})
				next++
			}
		}
	}
	doc.Entities = int(next)

	sharedIndex := make(map[int]int)
	for _, a := range s.archetypes {
		if a.entityCount == 0 {
			continue
		}
		rec := archetypeRecord{}
		for _, info := range a.infos[1:] {
			rec.Types = append(rec.Types, typeRecord{Name: info.Name, Category: info.Category.String(), Size: info.Size})
		}
		for _, c := range a.chunks {
			cr, err := s.serializeChunk(c, remap, sharedIndex, &doc)
			if err != nil {
				return nil, err
			}
			rec.Chunks = append(rec.Chunks, cr)
		}
		doc.Archetypes = append(doc.Archetypes, rec)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "encode storage")
	}
	s.logger.Debug().Int("entities", doc.Entities).Int("bytes", len(data)).Msg("storage serialized")
	return data, nil
}

func (s *Storage) serializeChunk(c *chunk, remap entityRemap, sharedIndex map[int]int, doc *document) (chunkRecord, error) {
	a := c.archetype
	cr := chunkRecord{Count: c.count}
	for slot, idx := range c.sharedValues {
		if idx == 0 {
			cr.Shared = append(cr.Shared, -1)
			continue
		}
		docIdx, ok := sharedIndex[idx]
		if !ok {
			info := s.registry.Info(a.sharedTypes[slot])
			rec, err := encodeShared(info, s.shared.value(info, idx))
			if err != nil {
				return cr, err
			}
			docIdx = len(doc.Shared)
			doc.Shared = append(doc.Shared, rec)
			sharedIndex[idx] = docIdx
		}
		cr.Shared = append(cr.Shared, docIdx)
	}

	for i := 1; i < len(a.types); i++ {
		info := a.infos[i]
		switch {
		case a.sizes[i] == 0:
			cr.Columns = append(cr.Columns, nil)
		case info.Category == CategoryBuffer:
			cr.Columns = append(cr.Columns, nil)
			br := bufferRecord{Column: i - 1}
			for row := 0; row < c.count; row++ {
				h := (*bufferHeader)(c.element(i, row))
				n := int(h.length) * info.Size
				data := make([]byte, n)
				if n > 0 {
					copy(data, unsafe.Slice((*byte)(h.data(s.heap)), n))
				}
				for k := 0; k < int(h.length); k++ {
					patchEntityFields(unsafe.Pointer(&data[k*info.Size]), info.EntityOffsets, remap.lookup)
				}
				br.Rows = append(br.Rows, data)
			}
			cr.Buffers = append(cr.Buffers, br)
		default:
			n := c.count * info.Size
			data := make([]byte, n)
			copy(data, unsafe.Slice((*byte)(c.column(i)), n))
			if info.HasEntityReferences() {
				for row := 0; row < c.count; row++ {
					patchEntityFields(unsafe.Pointer(&data[row*info.Size]), info.EntityOffsets, remap.lookup)
				}
			}
			cr.Columns = append(cr.Columns, data)
		}
	}
	return cr, nil
}

func encodeShared(info *TypeInfo, v any) (sharedValueRecord, error) {
	rec := sharedValueRecord{Type: info.Name}
	if info.blittable {
		p := reflect.New(info.Type)
		p.Elem().Set(reflect.ValueOf(v))
		rec.Raw = slices.Clone(unsafe.Slice((*byte)(p.UnsafePointer()), info.Size))
		return rec, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return rec, eris.Wrapf(err, "encode shared %s", info.Name)
	}
	rec.Value = raw
	return rec, nil
}

func decodeShared(info *TypeInfo, rec sharedValueRecord) (any, error) {
	p := reflect.New(info.Type)
	if info.blittable {
		if len(rec.Raw) != info.Size {
			return nil, argumentError("shared %s holds %d bytes, want %d", info.Name, len(rec.Raw), info.Size)
		}
		if info.Size > 0 {
			memCopy(p.UnsafePointer(), unsafe.Pointer(unsafe.SliceData(rec.Raw)), info.Size)
		}
		return p.Elem().Interface(), nil
	}
	if err := json.Unmarshal(rec.Value, p.Interface()); err != nil {
		return nil, eris.Wrapf(err, "decode shared %s", info.Name)
	}
	return p.Elem().Interface(), nil
}

// loadPlan maps one archetype record onto the target registry, whose type
// indices may order the columns differently from the source.
type loadPlan struct {
	rec    archetypeRecord
	types  []*TypeInfo
	shared []*TypeInfo

	a *Archetype
	// cols maps a record column to its archetype column.
	cols []int
	// slots maps a record shared slot to its archetype shared slot.
	slots []int
}

// Deserialize loads a document produced by Serialize into s, which must be
// empty and use a registry knowing every serialized type. The whole document
// is validated before the first entity is created, so a failed call leaves
// s empty.
func Deserialize(s *Storage, data []byte) error {
	if err := s.checkMainThread(); err != nil {
		return err
	}
	if !s.IsEmpty() {
		return argumentError("deserializing into a storage with %d entities", s.entities.count())
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return eris.Wrap(err, "decode storage")
	}
	if doc.Version != serializationVersion {
		return argumentError("unsupported document version %d", doc.Version)
	}

	values := make([]any, len(doc.Shared))
	valueTypes := make([]*TypeInfo, len(doc.Shared))
	for i, rec := range doc.Shared {
		info, err := s.typeByName(rec.Type, CategoryShared, -1)
		if err != nil {
			return err
		}
		if values[i], err = decodeShared(info, rec); err != nil {
			return err
		}
		valueTypes[i] = info
	}

	plans := make([]*loadPlan, 0, len(doc.Archetypes))
	total := 0
	for _, ar := range doc.Archetypes {
		p, err := s.planArchetype(ar, valueTypes)
		if err != nil {
			return err
		}
		for _, cr := range ar.Chunks {
			total += cr.Count
		}
		plans = append(plans, p)
	}
	if total != doc.Entities {
		return argumentError("document lists %d entities, its chunks hold %d", doc.Entities, total)
	}

	if err := s.beginStructural(); err != nil {
		return err
	}
	defer s.endStructural()
	for _, p := range plans {
		if err := p.bind(s); err != nil {
			return err
		}
	}
	s.version.Bump()

	shared := make([]int, len(values))
	for i, v := range values {
		shared[i] = s.shared.intern(valueTypes[i], v)
	}
	created := make([]Entity, 0, doc.Entities)
	var placed []placedRow
	for _, p := range plans {
		for _, cr := range p.rec.Chunks {
			s.loadChunk(p, cr, shared, &created, &placed)
		}
	}
	for _, idx := range shared {
		s.shared.dropIfUnused(idx)
	}

	remap := func(e Entity) Entity {
		if e.Version != 1 || e.Index < 0 || int(e.Index) >= len(created) {
			return Null
		}
		return created[e.Index]
	}
	for _, p := range placed {
		p.c.patchRow(p.row, s.heap, remap)
	}
	s.logger.Debug().Int("entities", len(created)).Msg("storage deserialized")
	return nil
}

func (s *Storage) planArchetype(ar archetypeRecord, valueTypes []*TypeInfo) (*loadPlan, error) {
	p := &loadPlan{rec: ar}
	for _, tr := range ar.Types {
		info, err := s.typeByName(tr.Name, categoryFromString(tr.Category), tr.Size)
		if err != nil {
			return nil, err
		}
		p.types = append(p.types, info)
		if info.Category == CategoryShared {
			p.shared = append(p.shared, info)
		}
	}
	for i, cr := range ar.Chunks {
		if err := p.validate(cr, valueTypes); err != nil {
			return nil, eris.Wrapf(err, "chunk %d", i)
		}
	}
	return p, nil
}

func (p *loadPlan) validate(cr chunkRecord, valueTypes []*TypeInfo) error {
	if cr.Count < 0 || len(cr.Columns) != len(p.types) || len(cr.Shared) != len(p.shared) {
		return argumentError("chunk layout does not match its archetype")
	}
	for k, docIdx := range cr.Shared {
		if docIdx < 0 {
			continue
		}
		if docIdx >= len(valueTypes) {
			return argumentError("shared value %d out of range", docIdx)
		}
		if valueTypes[docIdx] != p.shared[k] {
			return argumentError("shared value %d is a %s, want %s", docIdx, valueTypes[docIdx].Name, p.shared[k].Name)
		}
	}
	for j, info := range p.types {
		if info.Category == CategoryBuffer || info.chunkSize == 0 {
			continue
		}
		if col, want := cr.Columns[j], cr.Count*info.Size; col != nil && len(col) != want {
			return argumentError("column %s holds %d bytes, want %d", info.Name, len(col), want)
		}
	}
	for _, br := range cr.Buffers {
		if br.Column < 0 || br.Column >= len(p.types) || p.types[br.Column].Category != CategoryBuffer {
			return argumentError("buffer record names column %d", br.Column)
		}
		info := p.types[br.Column]
		if len(br.Rows) != cr.Count {
			return argumentError("buffer column holds %d rows, want %d", len(br.Rows), cr.Count)
		}
		for _, row := range br.Rows {
			if len(row)%info.Size != 0 {
				return argumentError("buffer row of %s holds %d bytes, not a multiple of %d", info.Name, len(row), info.Size)
			}
		}
	}
	return nil
}

// bind creates the target archetype. It runs for every plan before any
// entity is placed.
func (p *loadPlan) bind(s *Storage) error {
	indices := make([]TypeIndex, len(p.types))
	for j, info := range p.types {
		indices[j] = info.Index
	}
	a, err := s.getOrCreateArchetype(indices)
	if err != nil {
		return err
	}
	if len(a.types) != len(p.types)+1 {
		return argumentError("archetype record lists a type twice")
	}
	p.a = a
	p.cols = make([]int, len(p.types))
	p.slots = p.slots[:0]
	for j, info := range p.types {
		col := a.indexOf(info.Index)
		p.cols[j] = col
		if slot := a.sharedSlot[col]; slot >= 0 {
			p.slots = append(p.slots, slot)
		}
	}
	return nil
}

func (s *Storage) loadChunk(p *loadPlan, cr chunkRecord, shared []int, created *[]Entity, placed *[]placedRow) {
	a := p.a
	tuple := make([]int, len(a.sharedTypes))
	for k, docIdx := range cr.Shared {
		if docIdx >= 0 {
			tuple[p.slots[k]] = shared[docIdx]
		}
	}
	buffers := make(map[int][][]byte, len(cr.Buffers))
	for _, br := range cr.Buffers {
		buffers[br.Column] = br.Rows
	}

	src := 0
	s.allocateRows(a, tuple, cr.Count, func(c *chunk, row int, e Entity) {
		for j, info := range p.types {
			col := p.cols[j]
			switch {
			case info.Category == CategoryBuffer:
				if rows := buffers[j]; rows != nil {
					s.loadBufferRow(c, col, row, info, rows[src])
				}
			case a.sizes[col] > 0:
				if data := cr.Columns[j]; data != nil {
					memCopy(c.element(col, row), unsafe.Pointer(&data[src*info.Size]), info.Size)
				}
			}
		}
		*created = append(*created, e)
		if len(a.entityRefColumns) > 0 {
			*placed = append(*placed, placedRow{c: c, row: row})
		}
		src++
	})
}

func (s *Storage) loadBufferRow(c *chunk, col, row int, info *TypeInfo, data []byte) {
	h := (*bufferHeader)(c.element(col, row))
	n := len(data) / info.Size
	if n > int(h.capacity) {
		h.overflow = s.heap.alloc(n * info.Size)
		h.capacity = int32(n)
	}
	if n > 0 {
		memCopy(h.data(s.heap), unsafe.Pointer(unsafe.SliceData(data)), n*info.Size)
	}
	h.length = int32(n)
}

func (s *Storage) typeByName(name string, category Category, size int) (*TypeInfo, error) {
	idx, ok := s.registry.IndexByName(name)
	if !ok {
		return nil, argumentError("serialized type %s not registered", name)
	}
	info := s.registry.Info(idx)
	if info.Category != category {
		return nil, argumentError("serialized type %s is %s, registered as %s", name, category, info.Category)
	}
	if size >= 0 && info.Size != size {
		return nil, argumentError("serialized type %s has size %d, registered with %d", name, size, info.Size)
	}
	return info, nil
}

func categoryFromString(name string) Category {
	for c := CategoryData; c <= CategorySystemState; c++ {
		if c.String() == name {
			return c
		}
	}
	return Category(255)
}
