package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role constants for user authorization.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account status values.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password" json:"-"` // bcrypt hash
	Role      string             `bson:"role" json:"role"`
	Status    string             `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Identity is the authenticated view of a user carried through a request.
// It holds only what permission checks need; the password hash never leaves
// the credential store.
type Identity struct {
	ID     primitive.ObjectID `json:"id"`
	Email  string             `json:"email"`
	Role   string             `json:"role"`
	Status string             `json:"status"`
}

// Identity returns the request-facing view of the user.
func (u *User) Identity() *Identity {
	return &Identity{ID: u.ID, Email: u.Email, Role: u.Role, Status: u.Status}
}
