package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"student-registry/internal/credential"
	mailer "student-registry/internal/mail"
	"student-registry/internal/model"
	"student-registry/internal/token"
	"student-registry/pkg/apierror"
)

type StudentConfig struct {
	ActivateAccountTTL time.Duration
}

// StudentService owns registration, activation and the mailed halves of the
// password reset flow. Token checks are delegated to the SessionManager.
type StudentService struct {
	store    StudentStore
	sessions *SessionManager
	codec    *token.Codec
	hasher   *credential.Hasher
	mailer   mailer.Mailer
	composer mailer.Composer
	audit    *AuditService
	cfg      StudentConfig
	now      func() time.Time
}

func NewStudentService(
	store StudentStore,
	sessions *SessionManager,
	codec *token.Codec,
	hasher *credential.Hasher,
	m mailer.Mailer,
	composer mailer.Composer,
	audit *AuditService,
	cfg StudentConfig,
) *StudentService {
	if cfg.ActivateAccountTTL <= 0 {
		cfg.ActivateAccountTTL = 24 * time.Hour
	}

	return &StudentService{
		store:    store,
		sessions: sessions,
		codec:    codec,
		hasher:   hasher,
		mailer:   m,
		composer: composer,
		audit:    audit,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register stores a new, inactive student and mails the activation link.
// When the mail cannot be sent the record is kept and ErrMailDeliveryFailure
// is returned.
func (s *StudentService) Register(ctx context.Context, req model.RegisterRequest) (model.Student, error) {
	if err := validateRegistration(req); err != nil {
		return model.Student{}, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	curp := strings.ToUpper(strings.TrimSpace(req.CURP))

	exists, err := s.store.ExistsByEmailOrCURP(ctx, email, curp)
	if err != nil {
		return model.Student{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	if exists {
		s.audit.Record(ctx, model.AuthEventRegister, "", email, "email or curp already registered")
		return model.Student{}, model.ErrStudentAlreadyExists
	}

	hashed, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.Student{}, fmt.Errorf("hash password: %w", err)
	}

	seq, err := s.store.NextControlSequence(ctx)
	if err != nil {
		return model.Student{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	now := s.now().UTC()
	number, err := controlNumber(now, seq)
	if err != nil {
		s.audit.Record(ctx, model.AuthEventRegister, "", email, "control number sequence exhausted")
		return model.Student{}, err
	}

	student := newStudent(req, email, curp, hashed)
	student.ControlNumber = number
	student.CreatedAt = now
	student.UpdatedAt = now

	if err := s.store.Create(ctx, student); err != nil {
		if errors.Is(err, model.ErrStudentAlreadyExists) {
			return model.Student{}, err
		}
		return model.Student{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	s.audit.Record(ctx, model.AuthEventRegister, student.ControlNumber, email, "")

	activationToken, _, err := s.codec.Sign(token.KindActivateAccount, map[string]any{
		token.ClaimTokenExpires: now.Add(s.cfg.ActivateAccountTTL).Unix(),
	}, s.cfg.ActivateAccountTTL)
	if err != nil {
		return student, err
	}

	if err := s.send(ctx, s.composer.ActivateAccount(student, activationToken)); err != nil {
		return student, err
	}

	return student, nil
}

const maxControlSequence = 999999

// controlNumber is the two digit year, the campus code 6P and a six digit
// sequence. A sequence outside 1..999999 is never folded back into range.
func controlNumber(now time.Time, seq int64) (string, error) {
	if seq < 1 || seq > maxControlSequence {
		return "", fmt.Errorf("%w: sequence %d", model.ErrControlNumbersExhausted, seq)
	}
	return fmt.Sprintf("%s6P%06d", now.Format("06"), seq), nil
}

func validateRegistration(req model.RegisterRequest) error {
	missing := make([]string, 0, 4)
	for field, value := range map[string]string{
		"email":    req.Email,
		"password": req.Password,
		"curp":     req.CURP,
		"names":    req.Names,
		"lastname": req.Lastname,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return apierror.BadRequest("missing required fields", strings.Join(missing, ", "))
	}

	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return apierror.BadRequest("invalid email address", req.Email)
	}
	if len(strings.TrimSpace(req.CURP)) != 18 {
		return apierror.BadRequest("curp must have 18 characters", "")
	}
	if req.Birthday != "" {
		if _, err := time.Parse(time.DateOnly, req.Birthday); err != nil {
			return apierror.BadRequest("birthday must be YYYY-MM-DD", req.Birthday)
		}
	}

	return nil
}

// optionalUpper treats a blank value as absent. RFC is unique only when
// present, so "" must never reach the store.
func optionalUpper(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.ToUpper(strings.TrimSpace(*value))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func newStudent(req model.RegisterRequest, email string, curp string, passwordHash string) model.Student {
	return model.Student{
		CURP:               curp,
		RFC:                optionalUpper(req.RFC),
		Email:              email,
		PasswordHash:       passwordHash,
		Names:              strings.TrimSpace(req.Names),
		Lastname:           strings.TrimSpace(req.Lastname),
		SecondLastname:     strings.TrimSpace(req.SecondLastname),
		Career:             req.Career,
		CivilState:         req.CivilState,
		Cellphone:          req.Cellphone,
		Telephone:          req.Telephone,
		Birthday:           req.Birthday,
		BirthState:         req.BirthState,
		Birthplace:         req.Birthplace,
		HomeStreet:         req.HomeStreet,
		HomeNumber:         req.HomeNumber,
		HomeNeighborhood:   req.HomeNeighborhood,
		HomeMunicipality:   req.HomeMunicipality,
		HomePostalCode:     req.HomePostalCode,
		HomeCity:           req.HomeCity,
		HomeState:          req.HomeState,
		School:             req.School,
		SchoolMunicipality: req.SchoolMunicipality,
		SchoolState:        req.SchoolState,
		GradDate:           req.GradDate,
		AvgCalif:           req.AvgCalif,
		Area:               req.Area,
		IMSSNumber:         req.IMSSNumber,
		Clinic:             req.Clinic,
		BloodType:          req.BloodType,
		WorkCompany:        req.WorkCompany,
		Tutor:              req.Tutor,
		ActiveUser:         false,
	}
}

// Activate marks the student behind email as active. The activation token
// only proves it was issued by this service within its lifetime; it is not
// bound to a particular student.
func (s *StudentService) Activate(ctx context.Context, activationToken string, email string) error {
	claims, err := s.codec.Verify(token.KindActivateAccount, activationToken)
	if err != nil {
		s.audit.Record(ctx, model.AuthEventActivate, "", email, err.Error())
		return model.ErrInvalidToken
	}

	expires, ok := claims.Time(token.ClaimTokenExpires)
	if !ok || !expires.After(s.now().UTC()) {
		s.audit.Record(ctx, model.AuthEventActivate, "", email, "token expiry claim missing or past")
		return model.ErrInvalidToken
	}

	student, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrStudentNotFound) {
		s.audit.Record(ctx, model.AuthEventActivate, "", email, "unknown student")
		return model.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	if err := s.store.Activate(ctx, student.ControlNumber); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	s.audit.Record(ctx, model.AuthEventActivate, student.ControlNumber, student.Email, "")
	return nil
}

// RequestPasswordReset looks the student up by email or CURP, stores a new
// reset token and mails the link.
func (s *StudentService) RequestPasswordReset(ctx context.Context, email string, curp string) error {
	if strings.TrimSpace(email) == "" && strings.TrimSpace(curp) == "" {
		return apierror.BadRequest("email or curp is required", "")
	}

	student, err := s.store.FindByEmailOrCURP(ctx, email, curp)
	if errors.Is(err, model.ErrStudentNotFound) {
		s.audit.Record(ctx, model.AuthEventResetRequested, "", email, "unknown student")
		return model.ErrStudentNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}

	resetToken, err := s.sessions.IssueResetToken(ctx, student)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, model.AuthEventResetRequested, student.ControlNumber, student.Email, "")
	return s.send(ctx, s.composer.ResetPassword(student, resetToken))
}

func (s *StudentService) CheckResetToken(ctx context.Context, resetToken string, email string) error {
	student, err := s.sessions.VerifyResetToken(ctx, resetToken, email)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, model.AuthEventResetChecked, student.ControlNumber, student.Email, "")
	return nil
}

// ResetPassword finishes the reset flow and tells the student the password
// changed.
func (s *StudentService) ResetPassword(ctx context.Context, resetToken string, email string, newPassword string) error {
	student, err := s.sessions.ConsumeResetToken(ctx, resetToken, email, newPassword)
	if err != nil {
		return err
	}

	return s.send(ctx, s.composer.PasswordChanged(student))
}

func (s *StudentService) Get(ctx context.Context, controlNumber string) (model.Student, error) {
	student, err := s.store.FindByControlNumber(ctx, controlNumber)
	if err != nil && !errors.Is(err, model.ErrStudentNotFound) {
		return model.Student{}, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	return student, err
}

func (s *StudentService) List(ctx context.Context) ([]model.Student, error) {
	students, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorageFailure, err)
	}
	return students, nil
}

func (s *StudentService) send(ctx context.Context, msg mailer.Message) error {
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", model.ErrMailDeliveryFailure, err)
	}
	return nil
}
