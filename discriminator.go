package callback

// Discriminator is a cheap predicate over a View. It decides the shape of an
// inbound payload (structured envelope, bulk batch, raw bytes) before the
// payload is decoded.
type Discriminator interface {
	Match(v View) bool
}

// CloudEventShape matches payloads carrying the standard event metadata
// fields of a CloudEvents envelope.
func CloudEventShape() Discriminator {
	return HasFields("specversion", "id", "type", "source")
}

// BulkShape matches a bulk delivery body: an entries array whose members
// carry an entryId, addressed to a pub/sub component or topic.
func BulkShape() Discriminator {
	return And(
		HasFields("entries.0.entryId"),
		Or(HasFields("pubsubname"), HasFields("topic")),
		Not(HasFields("specversion")),
	)
}

// HasFields matches when every path exists.
func HasFields(paths ...string) Discriminator {
	return hasFields(paths)
}

type hasFields []string

func (d hasFields) Match(v View) bool {
	for _, p := range d {
		if !v.HasField(p) {
			return false
		}
	}
	return true
}

// And matches when all discriminators match.
func And(ds ...Discriminator) Discriminator {
	return allOf(ds)
}

type allOf []Discriminator

func (d allOf) Match(v View) bool {
	for _, disc := range d {
		if !disc.Match(v) {
			return false
		}
	}
	return true
}

// Or matches when any discriminator matches.
func Or(ds ...Discriminator) Discriminator {
	return anyOf(ds)
}

type anyOf []Discriminator

func (d anyOf) Match(v View) bool {
	for _, disc := range d {
		if disc.Match(v) {
			return true
		}
	}
	return false
}

// Not inverts a discriminator.
func Not(d Discriminator) Discriminator {
	return not{d: d}
}

type not struct {
	d Discriminator
}

func (d not) Match(v View) bool { return !d.d.Match(v) }
