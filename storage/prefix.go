package storage

// Prefixed scopes every key of an underlying KV under a fixed prefix.
type Prefixed struct {
	inner  KV
	prefix []byte
}

// NewPrefixed returns a view of inner restricted to prefix.
func NewPrefixed(inner KV, prefix []byte) *Prefixed {
	return &Prefixed{inner: inner, prefix: append([]byte(nil), prefix...)}
}

func (p *Prefixed) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

// Prefix returns the namespace prefix.
func (p *Prefixed) Prefix() []byte { return append([]byte(nil), p.prefix...) }

func (p *Prefixed) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }

func (p *Prefixed) Has(key []byte) (bool, error) { return p.inner.Has(p.key(key)) }

func (p *Prefixed) Put(key []byte, value []byte) error { return p.inner.Put(p.key(key), value) }

func (p *Prefixed) Delete(key []byte) error { return p.inner.Delete(p.key(key)) }
