package index

type keyed interface {
	key() string
}

// recordSet is an insertion-ordered set of records.
type recordSet[T keyed] struct {
	seen  map[string]struct{}
	items []T
}

func newRecordSet[T keyed]() recordSet[T] {
	return recordSet[T]{seen: make(map[string]struct{}), items: []T{}}
}

func (s *recordSet[T]) add(r T) {
	k := r.key()
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.items = append(s.items, r)
}

// Builder accumulates the records of a single resource. Adding a record
// equal to one already present is a no-op. A Builder is not safe for
// concurrent use.
type Builder struct {
	resourceType string
	resourceID   string

	numbers    recordSet[NumberIndex]
	dates      recordSet[DateIndex]
	dateTimes  recordSet[DateTimeIndex]
	strings    recordSet[StringIndex]
	uris       recordSet[URIIndex]
	tokens     recordSet[TokenIndex]
	quantities recordSet[QuantityIndex]
	references recordSet[ReferenceIndex]
	positions  recordSet[PositionIndex]
}

// NewBuilder returns an empty Builder for the given resource.
func NewBuilder(resourceType, resourceID string) *Builder {
	return &Builder{
		resourceType: resourceType,
		resourceID:   resourceID,
		numbers:      newRecordSet[NumberIndex](),
		dates:        newRecordSet[DateIndex](),
		dateTimes:    newRecordSet[DateTimeIndex](),
		strings:      newRecordSet[StringIndex](),
		uris:         newRecordSet[URIIndex](),
		tokens:       newRecordSet[TokenIndex](),
		quantities:   newRecordSet[QuantityIndex](),
		references:   newRecordSet[ReferenceIndex](),
		positions:    newRecordSet[PositionIndex](),
	}
}

// AddNumberIndex adds r unless an equal record is present.
func (b *Builder) AddNumberIndex(r NumberIndex) {
	b.numbers.add(r)
}

// AddDateIndex adds r unless an equal record is present.
func (b *Builder) AddDateIndex(r DateIndex) {
	b.dates.add(r)
}

// AddDateTimeIndex adds r unless an equal record is present.
func (b *Builder) AddDateTimeIndex(r DateTimeIndex) {
	b.dateTimes.add(r)
}

// AddStringIndex adds r unless an equal record is present.
func (b *Builder) AddStringIndex(r StringIndex) {
	b.strings.add(r)
}

// AddURIIndex adds r unless an equal record is present.
func (b *Builder) AddURIIndex(r URIIndex) {
	b.uris.add(r)
}

// AddQuantityIndex adds r unless an equal record is present.
func (b *Builder) AddQuantityIndex(r QuantityIndex) {
	b.quantities.add(r)
}

// AddReferenceIndex adds r unless an equal record is present.
func (b *Builder) AddReferenceIndex(r ReferenceIndex) {
	b.references.add(r)
}

// AddPositionIndex adds r unless an equal record is present.
func (b *Builder) AddPositionIndex(r PositionIndex) {
	b.positions.add(r)
}

// AddTokenIndex adds r. The system string is copied so later changes to the
// caller's pointer target do not leak into the aggregate.
func (b *Builder) AddTokenIndex(r TokenIndex) {
	if r.System != nil {
		system := *r.System
		r.System = &system
	}
	b.tokens.add(r)
}

// Build returns the accumulated records. Every slice is non-nil.
func (b *Builder) Build() ResourceIndices {
	return ResourceIndices{
		ResourceType:     b.resourceType,
		ResourceID:       b.resourceID,
		NumberIndices:    clip(b.numbers.items),
		DateIndices:      clip(b.dates.items),
		DateTimeIndices:  clip(b.dateTimes.items),
		StringIndices:    clip(b.strings.items),
		URIIndices:       clip(b.uris.items),
		TokenIndices:     clip(b.tokens.items),
		QuantityIndices:  clip(b.quantities.items),
		ReferenceIndices: clip(b.references.items),
		PositionIndices:  clip(b.positions.items),
	}
}

// clip caps capacity at length so the caller cannot append into the
// builder's backing array.
func clip[T any](s []T) []T {
	return s[:len(s):len(s)]
}

// WithDateTimeIndices returns a copy of ri with records appended to its
// date-time records, skipping any already present. ri is left unchanged.
func (ri ResourceIndices) WithDateTimeIndices(records ...DateTimeIndex) ResourceIndices {
	set := newRecordSet[DateTimeIndex]()
	for _, r := range ri.DateTimeIndices {
		set.add(r)
	}
	for _, r := range records {
		set.add(r)
	}
	ri.DateTimeIndices = clip(set.items)
	return ri
}
