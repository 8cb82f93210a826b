/*
Package auth handles credentials: bcrypt password hashes, HS256
access/refresh token pairs, and API keys matched by SHA-256 hash with a
last-used timestamp recorded on each successful use.
*/
package auth
