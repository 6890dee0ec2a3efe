package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/karaca/identity/pkg/kafka"
	"github.com/karaca/identity/services/auth/internal/domain"
)

// Kafka topic constants for identity domain events.
const (
	TopicUserRegistered    = "identity.user.registered"
	TopicUserLogin         = "identity.user.login"
	TopicUserPasswordReset = "identity.user.password_reset"
	TopicUserDeleted       = "identity.user.deleted"
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// Source identifier for events originating from the auth service.
const SourceAuthService = "auth-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
	Passwordless  bool   `json:"passwordless"`
}

// UserLoginData is the payload for a user.login event.
type UserLoginData struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	IPAddress string `json:"ipAddress,omitempty"`
	MagicLink bool   `json:"magicLink"`
}

// UserPasswordResetData is the payload for a user.password_reset event.
type UserPasswordResetData struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// UserDeletedData is the payload for a user.deleted event.
type UserDeletedData struct {
	UserID    string `json:"userId"`
	Permanent bool   `json:"permanent"`
}

// Producer publishes identity domain events to Kafka. Publishing is
// best-effort: callers log failures and never roll back the domain action.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User, passwordless bool) error {
	data := UserRegisteredData{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		Passwordless:  passwordless,
	}

	return p.publish(ctx, TopicUserRegistered, user.ID, data)
}

// PublishUserLogin publishes a user.login event.
func (p *Producer) PublishUserLogin(ctx context.Context, user *domain.User, ip string, magicLink bool) error {
	data := UserLoginData{
		UserID:    user.ID,
		Email:     user.Email,
		IPAddress: ip,
		MagicLink: magicLink,
	}

	return p.publish(ctx, TopicUserLogin, user.ID, data)
}

// PublishUserPasswordReset publishes a user.password_reset event.
func (p *Producer) PublishUserPasswordReset(ctx context.Context, userID, email string) error {
	data := UserPasswordResetData{
		UserID: userID,
		Email:  email,
	}

	return p.publish(ctx, TopicUserPasswordReset, userID, data)
}

// PublishUserDeleted publishes a user.deleted event.
func (p *Producer) PublishUserDeleted(ctx context.Context, userID string, permanent bool) error {
	data := UserDeletedData{
		UserID:    userID,
		Permanent: permanent,
	}

	return p.publish(ctx, TopicUserDeleted, userID, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	ev, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, ev); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}
