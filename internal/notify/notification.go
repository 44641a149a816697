package notify

import (
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// Notification token field mapping.
const (
	FieldTopic     = domain.FieldString01
	FieldOrigin    = domain.FieldString02
	FieldCreatedAt = domain.FieldDate01
)

// notificationFields is the projection requested by the continuous query.
var notificationFields = []domain.CoreTokenField{
	domain.FieldTokenID,
	FieldTopic,
	FieldOrigin,
	FieldCreatedAt,
	domain.FieldBlob,
}

// Notification is one event. Payload holds the CBOR encoding of the value
// given to Publish.
type Notification struct {
	ID        string
	Topic     string
	Origin    string
	CreatedAt time.Time
	Payload   []byte
}

// NewNotification encodes payload and stamps the notification with a new
// id.
func NewNotification(topic, origin string, payload any) (*Notification, error) {
	if topic == "" {
		return nil, domain.ErrPrecondition.WithDetails("notification topic is empty")
	}
	data, err := cbor.Marshal(payload)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("notification payload").WithCause(err)
	}
	id, err := domain.GenerateTokenID("ntf-")
	if err != nil {
		return nil, err
	}
	return &Notification{
		ID:        id,
		Topic:     topic,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into v.
func (n *Notification) Decode(v any) error {
	if err := cbor.Unmarshal(n.Payload, v); err != nil {
		return domain.ErrInvalidArgument.WithDetails("notification payload").WithCause(err)
	}
	return nil
}

// valueMode decodes maps with string keys so payloads can be re-encoded
// as JSON.
var valueMode, _ = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()

// Value decodes the payload without a target type.
func (n *Notification) Value() (any, error) {
	var v any
	if err := valueMode.Unmarshal(n.Payload, &v); err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("notification payload").WithCause(err)
	}
	return v, nil
}

// Token returns the durable form of n, expiring ttl after now.
func (n *Notification) Token(now time.Time, ttl time.Duration) *domain.Token {
	expiry := now.Add(ttl)
	return domain.NewToken(n.ID, domain.TokenTypeNotification).
		SetString(FieldTopic, n.Topic).
		SetString(FieldOrigin, n.Origin).
		SetDate(FieldCreatedAt, n.CreatedAt).
		SetDate(domain.FieldExpiryDate, expiry).
		SetDate(domain.FieldTTLDate, expiry).
		SetBlob(n.Payload)
}

func fromPartial(tokenID string, p *domain.PartialToken) (*Notification, error) {
	topic := p.String(FieldTopic)
	if topic == "" {
		return nil, domain.ErrTokenDecode.WithDetails("notification " + tokenID + " has no topic")
	}
	n := &Notification{
		ID:     tokenID,
		Topic:  topic,
		Origin: p.String(FieldOrigin),
	}
	n.CreatedAt, _ = p.Date(FieldCreatedAt)
	if blob, ok := p.Value(domain.FieldBlob).([]byte); ok {
		n.Payload = blob
	}
	return n, nil
}
