package models

import "time"

// Role identifies which part of the app a user is routed to.
type Role string

const (
	RoleCivil    Role = "civil"
	RoleSecurity Role = "security"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCivil, RoleSecurity, RoleAdmin:
		return true
	}
	return false
}

// Session is what a successful login or registration hands to the credential store.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	IsPremium bool   `json:"is_premium"`
}

// Metadata is the non-sensitive half of a session. The zero value means logged out.
type Metadata struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	IsPremium bool   `json:"is_premium"`
}

// ReportType is the kind of capture attached to a report.
type ReportType string

const (
	ReportVideo ReportType = "video"
	ReportAudio ReportType = "audio"
)

// Valid reports whether t is a supported capture type.
func (t ReportType) Valid() bool {
	return t == ReportVideo || t == ReportAudio
}

// ReportStatus tracks a queued report through upload attempts.
type ReportStatus string

const (
	StatusPending   ReportStatus = "pending"
	StatusUploading ReportStatus = "uploading"
	StatusFailed    ReportStatus = "failed"
	// StatusDelivered marks an item the backend accepted but the queue could
	// not remove. Recovery drops it instead of sending it again.
	StatusDelivered ReportStatus = "delivered"
)

// NewReport is the payload a capture screen hands to the queue.
type NewReport struct {
	Type            ReportType `json:"type"`
	LocalURI        string     `json:"localUri"`
	Caption         string     `json:"caption"`
	IsAnonymous     bool       `json:"isAnonymous"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Timestamp       time.Time  `json:"timestamp"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
}

// QueuedReport is a capture buffered locally until the backend accepts it.
type QueuedReport struct {
	ID              string       `json:"id"`
	Type            ReportType   `json:"type"`
	LocalURI        string       `json:"localUri"`
	Caption         string       `json:"caption"`
	IsAnonymous     bool         `json:"isAnonymous"`
	Latitude        float64      `json:"latitude"`
	Longitude       float64      `json:"longitude"`
	Timestamp       time.Time    `json:"timestamp"`
	DurationSeconds int          `json:"durationSeconds,omitempty"`
	RemoteURL       string       `json:"remoteUrl,omitempty"`
	RetryCount      int          `json:"retryCount"`
	Status          ReportStatus `json:"status"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
}

// ReportPatch carries the fields Update may change. Nil fields are left alone.
type ReportPatch struct {
	Caption      *string
	IsAnonymous  *bool
	RetryCount   *int
	Status       *ReportStatus
	ErrorMessage *string
}

// CreateReportRequest is the body of POST /api/report/create.
type CreateReportRequest struct {
	Type            ReportType `json:"type"`
	Caption         string     `json:"caption,omitempty"`
	IsAnonymous     bool       `json:"is_anonymous"`
	FileURL         string     `json:"file_url,omitempty"`
	Uploaded        bool       `json:"uploaded"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
}

// CreateReportResponse is returned by the backend on success.
type CreateReportResponse struct {
	ReportID string `json:"report_id"`
	Message  string `json:"message"`
}

// Profile is returned by GET /api/user/profile.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role"`
	IsPremium bool   `json:"is_premium"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Phone           string `json:"phone,omitempty"`
	FullName        string `json:"full_name,omitempty"`
	Role            Role   `json:"role"`
	InviteCode      string `json:"invite_code,omitempty"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	IsPremium bool   `json:"is_premium"`
}

// Session converts the response into what the credential store persists.
func (a AuthResponse) Session() Session {
	return Session{Token: a.Token, UserID: a.UserID, Role: a.Role, IsPremium: a.IsPremium}
}

// LocationPoint is a single GPS fix sent during a panic or escort.
type LocationPoint struct {
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Accuracy          *float64  `json:"accuracy,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	EmergencyCategory string    `json:"emergency_category,omitempty"`
}

// PingKind says which tracking session a location ping belongs to.
type PingKind string

const (
	PingPanic  PingKind = "panic"
	PingEscort PingKind = "escort"
)

// QueuedPing is a location ping that could not be delivered when it was taken.
type QueuedPing struct {
	ID           string        `json:"id"`
	Kind         PingKind      `json:"kind"`
	Point        LocationPoint `json:"point"`
	RetryCount   int           `json:"retryCount"`
	Status       ReportStatus  `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// PanicResponse is returned by POST /api/panic/activate.
type PanicResponse struct {
	PanicID string `json:"panic_id"`
	Message string `json:"message"`
}

// EscortRequest is the body of POST /api/escort/action.
type EscortRequest struct {
	Action   string        `json:"action"`
	Location LocationPoint `json:"location"`
}

// EscortResponse is returned by POST /api/escort/action.
type EscortResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// MessageResponse is the generic {"message": ...} body.
type MessageResponse struct {
	Message string `json:"message"`
}
