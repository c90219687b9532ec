package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBook_PublicationYear(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"1937-09-21", "1937"},
		{"2001", "2001"},
		{"", ""},
		{"19", ""},
		{"abcd-01-01", ""},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			b := &Book{PublicationDate: tt.date}
			assert.Equal(t, tt.want, b.PublicationYear())
		})
	}
}

func TestBook_ApplyReview(t *testing.T) {
	b := &Book{}
	b.ApplyReview(4)
	assert.Equal(t, 1, b.TotalReviews)
	assert.InDelta(t, 4.0, b.AverageRating, 0.0001)

	b.ApplyReview(5)
	b.ApplyReview(3)
	assert.Equal(t, 3, b.TotalReviews)
	assert.InDelta(t, 4.0, b.AverageRating, 0.0001)
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()

	assert.False(t, (&Session{}).Expired(now), "zero expiry never expires")
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Minute)}).Expired(now))
	assert.True(t, (&Session{ExpiresAt: now}).Expired(now))
}

func TestNewUser(t *testing.T) {
	p := &Profile{ID: "u1", Username: "bilbo", Email: "bilbo@shire.me", AvatarURL: "a.png"}
	s := &Session{AccessToken: "tok"}

	assert.Equal(t, &User{ID: "u1", Username: "bilbo", Email: "bilbo@shire.me", AvatarURL: "a.png", Token: "tok"}, NewUser(p, s))
}

func TestDefaultUsername(t *testing.T) {
	assert.Equal(t, "frodo", DefaultUsername("frodo@shire.me"))
	assert.Equal(t, "noat", DefaultUsername("noat"))
	assert.Equal(t, "reader", DefaultUsername("@shire.me"))
}
