package membership

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type RoomDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

type MemberDTO struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at" example:"2025-07-27T16:05:05Z"`
}

const RoleMember = "MEMBER"

var (
	ErrRoomNotFound = errors.New("room not found")
)

// IMembershipService is the durable record of rooms and who belongs to them.
// Live presence is layered on top of it by the ws package and is never
// persisted here as membership truth.
type IMembershipService interface {
	CreateRoom(ctx context.Context, name, description, createdBy string) (*RoomDTO, error)
	GetRoom(ctx context.Context, id string) (*RoomDTO, error)
	ListRooms(ctx context.Context, limit, offset int) ([]RoomDTO, error)
	DeactivateRoom(ctx context.Context, id string) error
	EnsureMember(ctx context.Context, roomID, userID, displayName string) error
	ListMembers(ctx context.Context, roomID string) ([]MemberDTO, error)
	TouchMember(ctx context.Context, roomID, userID string, seenAt time.Time) error
}

type membershipService struct {
	db *sql.DB
}

func NewMembershipService(db *sql.DB) IMembershipService {
	return &membershipService{db: db}
}

func (svc *membershipService) CreateRoom(ctx context.Context, name, description, createdBy string) (*RoomDTO, error) {
	dto := &RoomDTO{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := svc.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, description, created_by, is_active, created_at)
		      VALUES ($1, $2, $3, $4, TRUE, $5)`,
		dto.ID, dto.Name, dto.Description, dto.CreatedBy, dto.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return dto, nil
}

func (svc *membershipService) GetRoom(ctx context.Context, id string) (*RoomDTO, error) {
	dto := &RoomDTO{}
	err := svc.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_by, is_active, created_at
		   FROM rooms WHERE id = $1`, id,
	).Scan(&dto.ID, &dto.Name, &dto.Description, &dto.CreatedBy, &dto.IsActive, &dto.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return dto, nil
}

func (svc *membershipService) ListRooms(ctx context.Context, limit, offset int) ([]RoomDTO, error) {
	rows, err := svc.db.QueryContext(ctx,
		`SELECT id, name, description, created_by, is_active, created_at
		   FROM rooms
		  WHERE is_active = TRUE
		  ORDER BY created_at DESC
		  LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RoomDTO{}
	for rows.Next() {
		var dto RoomDTO
		if err := rows.Scan(&dto.ID, &dto.Name, &dto.Description,
			&dto.CreatedBy, &dto.IsActive, &dto.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, rows.Err()
}

func (svc *membershipService) DeactivateRoom(ctx context.Context, id string) error {
	_, err := svc.db.ExecContext(ctx,
		`UPDATE rooms SET is_active = FALSE WHERE id = $1`, id)
	return err
}

// EnsureMember records a first-seen user/member pair. Existing rows are left
// untouched apart from reactivating the room and refreshing a previously
// unknown display name, so joined_at always reflects the first join.
func (svc *membershipService) EnsureMember(ctx context.Context, roomID, userID, displayName string) error {
	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A join to an auto-created room must leave a durable room row behind,
	// and a join to an idle-deactivated room revives it.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, description, created_by, is_active, created_at)
		      VALUES ($1, $1, '', $2, TRUE, $3)
		 ON CONFLICT (id) DO UPDATE SET is_active = TRUE`,
		roomID, userID, time.Now().UTC(),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, name)
		      VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		        SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name)`,
		userID, displayName,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at, last_seen_at)
		      VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID, RoleMember, time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (svc *membershipService) ListMembers(ctx context.Context, roomID string) ([]MemberDTO, error) {
	rows, err := svc.db.QueryContext(ctx,
		`SELECT m.room_id, m.user_id, u.name, m.role, m.joined_at
		   FROM room_members m
		   JOIN users u ON u.id = m.user_id
		  WHERE m.room_id = $1
		  ORDER BY m.joined_at`, roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MemberDTO{}
	for rows.Next() {
		var dto MemberDTO
		if err := rows.Scan(&dto.RoomID, &dto.UserID, &dto.DisplayName,
			&dto.Role, &dto.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, rows.Err()
}

func (svc *membershipService) TouchMember(ctx context.Context, roomID, userID string, seenAt time.Time) error {
	_, err := svc.db.ExecContext(ctx,
		`UPDATE room_members SET last_seen_at = $3
		  WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, seenAt.UTC())
	return err
}
