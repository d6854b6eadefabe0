// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string form. Hash enforces the length policy
// itself, so a caller that skipped Validate still cannot store a short password.
// Verify treats stored hashes as untrusted and refuses parameters far above the
// configured cost. Accounts imported with bcrypt hashes still verify, and
// NeedsRehash flags them for replacement.
package password
