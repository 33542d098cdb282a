package credentials

// Credentials holds an API key and secret in memory. Call Zero when the
// owning client shuts down.
type Credentials struct {
	key    []byte
	secret []byte
}

func New(key, secret string) *Credentials {
	return &Credentials{key: []byte(key), secret: []byte(secret)}
}

func (c *Credentials) Valid() bool {
	return c != nil && len(c.key) > 0 && len(c.secret) > 0
}

func (c *Credentials) Key() string {
	if c == nil {
		return ""
	}
	return string(c.key)
}

// Secret returns a copy; callers own the returned slice.
func (c *Credentials) Secret() []byte {
	if c == nil {
		return nil
	}
	return append([]byte(nil), c.secret...)
}

func (c *Credentials) Zero() {
	if c == nil {
		return
	}
	wipe(c.key)
	wipe(c.secret)
	c.key = nil
	c.secret = nil
}

// String keeps credentials out of logs and fmt output.
func (c *Credentials) String() string {
	if !c.Valid() {
		return "credentials(empty)"
	}
	return "credentials(redacted)"
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
