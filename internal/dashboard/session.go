package dashboard

// Session is the caller's identity as far as a surface is concerned. The
// credential is opaque and only forwarded to the authority.
type Session interface {
	Authenticated() bool
	Credential() string
}

// StaticSession is a fixed Session, handy for tools and tests.
type StaticSession string

// Authenticated reports whether a credential is present.
func (s StaticSession) Authenticated() bool { return s != "" }

// Credential returns the bearer credential.
func (s StaticSession) Credential() string { return string(s) }
