// Package auth models the external authentication collaborator: an opaque
// principal with a role. The core never implements login or authorization
// mechanics; it verifies the principal token it is handed (HS256 JWT with
// sub and role claims) and gates the operator surface on the admin role.
package auth
