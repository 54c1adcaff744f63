package auth

// ArgonHasher adapts the package-level Argon2id functions to
// store.PasswordHasher, so services depend on an interface rather than
// free functions.
type ArgonHasher struct{}

// NewArgonHasher returns a store.PasswordHasher backed by Argon2id.
func NewArgonHasher() ArgonHasher { return ArgonHasher{} }

func (ArgonHasher) Hash(password string) (string, error) { return HashPassword(password) }

func (ArgonHasher) Verify(hash, password string) bool { return VerifyPassword(hash, password) }
