package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// UsersCollection holds one document per user who completed sign-in.
const UsersCollection = "users"

// User is the persisted record of a signed-in identity.
type User struct {
	ID        string    `json:"_id" firestore:"_id"`
	Nickname  string    `json:"nickname" firestore:"nickname"`
	FirstSeen time.Time `json:"firstSeen" firestore:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen" firestore:"lastSeen"`
}

// Users records sign-ins on top of a Store.
type Users struct {
	store Store[User]
	now   func() time.Time
}

// NewUsers creates the user registry
func NewUsers(store Store[User]) *Users {
	return &Users{store: store, now: time.Now}
}

// UserKey returns the document key for uid
func UserKey(uid string) string {
	return UsersCollection + "/" + url.PathEscape(uid)
}

// Get loads a user by provider user id
func (u *Users) Get(ctx context.Context, uid string) (User, error) {
	return u.store.Get(ctx, UserKey(uid))
}

// Upsert creates the user on first sign-in, otherwise refreshes the nickname
// and last-seen time. The read and write are one Store.Update, so FirstSeen
// is set exactly once even when sign-ins for the same uid race.
func (u *Users) Upsert(ctx context.Context, uid, nickname string) error {
	if uid == "" {
		return fmt.Errorf("uid is required")
	}
	now := u.now().UTC()

	_, err := u.store.Update(ctx, UserKey(uid), func(user User, found bool) (User, error) {
		if !found {
			user = User{ID: uid, FirstSeen: now}
		}
		user.Nickname = nickname
		user.LastSeen = now
		return user, nil
	})
	if err != nil {
		return fmt.Errorf("saving user %s: %w", uid, err)
	}
	return nil
}
