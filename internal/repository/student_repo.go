package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"student-registry/internal/model"
)

const uniqueViolation = "23505"

const studentColumns = `control_number, curp, rfc, email, password_hash, names, lastname, second_lastname,
	career, civil_state, cellphone, telephone, birthday, birth_state, birthplace,
	home_street, home_number, home_neighborhood, home_municipality, home_postal_code, home_city, home_state,
	school, school_municipality, school_state, grad_date, avg_calif, area,
	imss_number, clinic, blood_type, work_company, tutor,
	active_user, token_version, coalesce(reset_password_token, ''), reset_password_token_expires,
	created_at, updated_at`

type StudentRepository struct {
	pool *pgxpool.Pool
}

func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func scanStudent(row pgx.Row) (model.Student, error) {
	var s model.Student
	err := row.Scan(
		&s.ControlNumber, &s.CURP, &s.RFC, &s.Email, &s.PasswordHash, &s.Names, &s.Lastname, &s.SecondLastname,
		&s.Career, &s.CivilState, &s.Cellphone, &s.Telephone, &s.Birthday, &s.BirthState, &s.Birthplace,
		&s.HomeStreet, &s.HomeNumber, &s.HomeNeighborhood, &s.HomeMunicipality, &s.HomePostalCode, &s.HomeCity, &s.HomeState,
		&s.School, &s.SchoolMunicipality, &s.SchoolState, &s.GradDate, &s.AvgCalif, &s.Area,
		&s.IMSSNumber, &s.Clinic, &s.BloodType, &s.WorkCompany, &s.Tutor,
		&s.ActiveUser, &s.TokenVersion, &s.ResetPasswordToken, &s.ResetTokenExpires,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func (r *StudentRepository) findOne(ctx context.Context, op string, where string, args ...any) (model.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Student{}, model.ErrStudentNotFound
	}
	if err != nil {
		return model.Student{}, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (r *StudentRepository) FindByControlNumber(ctx context.Context, controlNumber string) (model.Student, error) {
	return r.findOne(ctx, "find student by control number", `control_number = $1`, controlNumber)
}

func (r *StudentRepository) FindByEmail(ctx context.Context, email string) (model.Student, error) {
	return r.findOne(ctx, "find student by email", `lower(email) = lower($1)`, strings.TrimSpace(email))
}

// FindByEmailOrCURP matches either identifier; an empty argument never
// matches.
func (r *StudentRepository) FindByEmailOrCURP(ctx context.Context, email string, curp string) (model.Student, error) {
	return r.findOne(ctx, "find student by email or curp",
		`($1 <> '' AND lower(email) = lower($1)) OR ($2 <> '' AND upper(curp) = upper($2)) LIMIT 1`,
		strings.TrimSpace(email), strings.TrimSpace(curp))
}

func (r *StudentRepository) ExistsByEmailOrCURP(ctx context.Context, email string, curp string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM students WHERE lower(email) = lower($1) OR upper(curp) = upper($2))`,
		strings.TrimSpace(email), strings.TrimSpace(curp)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check student exists: %w", err)
	}
	return exists, nil
}

func (r *StudentRepository) NextControlSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('student_control_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next control sequence: %w", err)
	}
	return seq, nil
}

func (r *StudentRepository) Create(ctx context.Context, s model.Student) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO students (
			control_number, curp, rfc, email, password_hash, names, lastname, second_lastname,
			career, civil_state, cellphone, telephone, birthday, birth_state, birthplace,
			home_street, home_number, home_neighborhood, home_municipality, home_postal_code, home_city, home_state,
			school, school_municipality, school_state, grad_date, avg_calif, area,
			imss_number, clinic, blood_type, work_company, tutor,
			active_user, token_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		         $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, 0, $35, $35)`,
		s.ControlNumber, s.CURP, s.RFC, s.Email, s.PasswordHash, s.Names, s.Lastname, s.SecondLastname,
		s.Career, s.CivilState, s.Cellphone, s.Telephone, s.Birthday, s.BirthState, s.Birthplace,
		s.HomeStreet, s.HomeNumber, s.HomeNeighborhood, s.HomeMunicipality, s.HomePostalCode, s.HomeCity, s.HomeState,
		s.School, s.SchoolMunicipality, s.SchoolState, s.GradDate, s.AvgCalif, s.Area,
		s.IMSSNumber, s.Clinic, s.BloodType, s.WorkCompany, s.Tutor,
		s.ActiveUser, s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrStudentAlreadyExists
		}
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

func (r *StudentRepository) exec(ctx context.Context, op string, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrStudentNotFound
	}
	return nil
}

func (r *StudentRepository) Activate(ctx context.Context, controlNumber string) error {
	return r.exec(ctx, "activate student",
		`UPDATE students SET active_user = true, updated_at = $2 WHERE control_number = $1`,
		controlNumber, time.Now().UTC())
}

func (r *StudentRepository) SetResetToken(ctx context.Context, controlNumber string, token string, expiresAt time.Time) error {
	return r.exec(ctx, "set reset token",
		`UPDATE students SET reset_password_token = $2, reset_password_token_expires = $3, updated_at = $4
		 WHERE control_number = $1`,
		controlNumber, token, expiresAt.UTC(), time.Now().UTC())
}

// UpdatePassword writes the new hash only while resetToken is still the
// stored, unexpired reset token, and clears it in the same statement. A
// second consume of the same token matches no row and gets ErrInvalidToken.
func (r *StudentRepository) UpdatePassword(ctx context.Context, controlNumber string, passwordHash string, resetToken string, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE students
		 SET password_hash = $2, reset_password_token = NULL, reset_password_token_expires = NULL, updated_at = $3
		 WHERE control_number = $1 AND reset_password_token = $4 AND reset_password_token_expires > $3`,
		controlNumber, passwordHash, now.UTC(), resetToken)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInvalidToken
	}
	return nil
}

// ReplacePasswordHash swaps the stored hash for an equivalent one with
// current parameters and leaves the reset columns alone.
func (r *StudentRepository) ReplacePasswordHash(ctx context.Context, controlNumber string, passwordHash string) error {
	return r.exec(ctx, "replace password hash",
		`UPDATE students SET password_hash = $2, updated_at = $3 WHERE control_number = $1`,
		controlNumber, passwordHash, time.Now().UTC())
}

// IncrementTokenVersion bumps the version in a single statement so
// concurrent revocations never lose an increment.
func (r *StudentRepository) IncrementTokenVersion(ctx context.Context, controlNumber string) (int, error) {
	var version int
	err := r.pool.QueryRow(ctx,
		`UPDATE students SET token_version = token_version + 1, updated_at = $2
		 WHERE control_number = $1
		 RETURNING token_version`,
		controlNumber, time.Now().UTC()).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrStudentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment token version: %w", err)
	}
	return version, nil
}

func (r *StudentRepository) List(ctx context.Context) ([]model.Student, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+studentColumns+` FROM students ORDER BY control_number`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	students := make([]model.Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

func (r *StudentRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
