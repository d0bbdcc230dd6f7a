package models

import "time"

const (
	GroupRegularUsers  = "regular_users"
	GroupBusinessUsers = "business_users"
)

type User struct {
	ID           int64     `json:"id"`
	Phone        *string   `json:"phone"`
	Email        *string   `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"` // не отдаём наружу
	IsActive     bool      `json:"-"`
	IsStaff      bool      `json:"-"`
	DateJoined   time.Time `json:"-"`
}

// ContactEmail returns the email or "" when unset.
func (u *User) ContactEmail() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

func (u *User) ContactPhone() string {
	if u == nil || u.Phone == nil {
		return ""
	}
	return *u.Phone
}

type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GroupDiscount is a percentage granted to every member of a group.
type GroupDiscount struct {
	GroupID    int64 `json:"group_id"`
	Percentage int   `json:"percentage"`
	IsActive   bool  `json:"is_active"`
}

// MaxActiveDiscount returns the largest active discount among the groups the
// buyer belongs to, or 0.
func MaxActiveDiscount(groupIDs []int64, discounts []GroupDiscount) int {
	member := make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		member[id] = struct{}{}
	}
	best := 0
	for _, d := range discounts {
		if !d.IsActive {
			continue
		}
		if _, ok := member[d.GroupID]; !ok {
			continue
		}
		if d.Percentage > best {
			best = d.Percentage
		}
	}
	if best > 100 {
		best = 100
	}
	return best
}
