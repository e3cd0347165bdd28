package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"ganapp/src-server/utils"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

type Role string

const (
	RoleParticipant Role = "participant"
	RoleOrganizer   Role = "organizer"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleParticipant, RoleOrganizer, RoleAdmin:
		return true
	}
	return false
}

// Organizers and admins can create events.
func (r Role) CanOrganize() bool {
	return r == RoleOrganizer || r == RoleAdmin
}

const minPasswordLength = 8

type User struct {
	bun.BaseModel `bun:"table:users,alias:user"`

	ID           string `bun:"id,pk"                json:"id"`
	Email        string `bun:"email,notnull,unique" json:"email"`
	PasswordHash string `bun:"password_hash,notnull" json:"-"`
	FirstName    string `bun:"first_name,notnull"   json:"first_name"`
	LastName     string `bun:"last_name,notnull"    json:"last_name"`
	Role         Role   `bun:"role,notnull,type:varchar" json:"role"`

	Affiliation     string `bun:"affiliation"      json:"affiliation"`
	ContactNumber   string `bun:"contact_number"   json:"contact_number"`
	AvatarURL       string `bun:"avatar_url"       json:"avatar_url"`
	ProfileComplete bool   `bun:"profile_complete" json:"profile_complete"`

	BannedUntil int64  `bun:"banned_until" json:"banned_until,omitempty"`
	BanReason   string `bun:"ban_reason"   json:"ban_reason,omitempty"`
	ArchivedAt  int64  `bun:"archived_at"  json:"archived_at,omitempty"`

	CreatedAt int64 `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt int64 `bun:"updated_at"         json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil > now.Unix()
}

func (u *User) IsArchived() bool {
	return u.ArchivedAt != 0
}

// Status as shown in the admin user table.
func (u *User) Status(now time.Time) string {
	switch {
	case u.IsArchived():
		return "archived"
	case u.IsBanned(now):
		return "banned"
	default:
		return "active"
	}
}

// Checks whether the account may sign in or call authenticated routes.
func (u *User) CanSignIn(now time.Time) error {
	switch {
	case u.IsArchived():
		return fmt.Errorf("%w: account is archived", ErrForbidden)
	case u.IsBanned(now):
		return fmt.Errorf("%w: account is banned until %s",
			ErrForbidden, time.Unix(u.BannedUntil, 0).UTC().Format(time.RFC1123))
	}
	return nil
}

func (u *User) SetPassword(password string) error {
	if len(password) < minPasswordLength {
		return NewValidationError(FieldError{"password", fmt.Sprintf("must be at least %d characters", minPasswordLength)})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("(*User).SetPassword: %w", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *User) validate() error {
	var flds []FieldError
	if _, err := mail.ParseAddress(u.Email); err != nil || u.Email == "" {
		flds = append(flds, FieldError{"email", "must be a valid email address"})
	}
	if u.FirstName == "" {
		flds = append(flds, FieldError{"first_name", "this field is required"})
	}
	if u.LastName == "" {
		flds = append(flds, FieldError{"last_name", "this field is required"})
	}
	if !u.Role.Valid() {
		flds = append(flds, FieldError{"role", "must be participant, organizer or admin"})
	}
	if u.AvatarURL != "" {
		if _, err := url.ParseRequestURI(u.AvatarURL); err != nil {
			flds = append(flds, FieldError{"avatar_url", "must be a valid url"})
		}
	}
	if len(flds) > 0 {
		return NewValidationError(flds...)
	}
	return nil
}

func (u *User) refreshProfileComplete() {
	u.ProfileComplete = u.FirstName != "" &&
		u.LastName != "" &&
		u.Affiliation != "" &&
		u.ContactNumber != ""
}

// Inserts a new user. The password must already be set with SetPassword.
func (u *User) Create(ctx context.Context, db bun.IDB) error {
	u.Email = normalizeEmail(u.Email)
	u.FirstName = utils.CleanupName(u.FirstName)
	u.LastName = utils.CleanupName(u.LastName)
	if u.Role == "" {
		u.Role = RoleParticipant
	}
	if err := u.validate(); err != nil {
		return err
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("(*User).Create: password is not set")
	}

	exists, err := db.NewSelect().
		Model((*User)(nil)).
		Where("email = ?", u.Email).
		Exists(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("(*User).Create: %w", err)
	case exists:
		return ErrEmailTaken
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC().Unix()
	u.UpdatedAt = u.CreatedAt
	u.refreshProfileComplete()

	if _, err := db.NewInsert().Model(u).Exec(ctx); err != nil {
		return fmt.Errorf("(*User).Create: %w", err)
	}
	return nil
}

// Writes every mutable column back.
func (u *User) Update(ctx context.Context, db bun.IDB) error {
	u.FirstName = utils.CleanupName(u.FirstName)
	u.LastName = utils.CleanupName(u.LastName)
	if err := u.validate(); err != nil {
		return err
	}
	u.refreshProfileComplete()
	u.UpdatedAt = time.Now().UTC().Unix()

	res, err := db.NewUpdate().
		Model(u).
		Column("first_name", "last_name", "role", "affiliation", "contact_number",
			"avatar_url", "profile_complete", "banned_until", "ban_reason",
			"archived_at", "updated_at", "password_hash").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("(*User).Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("(*User).Update: user %w", ErrNotFound)
	}
	return nil
}

func GetUser(ctx context.Context, db bun.IDB, id string) (*User, error) {
	user := new(User)
	if err := db.NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %w", ErrNotFound)
		}
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	return user, nil
}

func GetUserByEmail(ctx context.Context, db bun.IDB, email string) (*User, error) {
	user := new(User)
	if err := db.NewSelect().
		Model(user).
		Where("email = ?", normalizeEmail(email)).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %w", ErrNotFound)
		}
		return nil, fmt.Errorf("GetUserByEmail: %w", err)
	}
	return user, nil
}

// Looks up the user by email and checks the password.
func Authenticate(ctx context.Context, db bun.IDB, email, password string) (*User, error) {
	user, err := GetUserByEmail(ctx, db, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}
	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}
	if err := user.CanSignIn(time.Now()); err != nil {
		return nil, err
	}
	return user, nil
}

// Creates the admin account from ADMIN_EMAIL/ADMIN_PASSWORD if it doesn't exist yet.
func EnsureAdmin(ctx context.Context, db bun.IDB, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	_, err := GetUserByEmail(ctx, db, email)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	admin := &User{
		Email:     email,
		FirstName: "GanApp",
		LastName:  "Admin",
		Role:      RoleAdmin,
	}
	if err := admin.SetPassword(password); err != nil {
		return false, err
	}
	if err := admin.Create(ctx, db); err != nil {
		return false, fmt.Errorf("EnsureAdmin: %w", err)
	}
	return true, nil
}
