package model

import "time"

// UserProjection is the slice of the user entity this service reads and rewrites.
// The user record itself is owned by user management; only PurchasedCourses is ever written here.
type UserProjection struct {
	ID               string        `json:"id"`
	Email            string        `json:"email,omitempty"`
	Name             string        `json:"name,omitempty"`
	PurchasedCourses []CourseGrant `json:"purchasedCourses"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func (u *UserProjection) IsZero() bool { return u == nil || u.ID == "" }

// Grant returns the user's grant for courseID, if any.
func (u *UserProjection) Grant(courseID string) (CourseGrant, bool) {
	if u == nil {
		return CourseGrant{}, false
	}
	for _, g := range u.PurchasedCourses {
		if g.CourseID == courseID {
			return g, true
		}
	}
	return CourseGrant{}, false
}
