package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Message is one routable unit: an SQS message or one record of a batched
// payload.
type Message struct {
	ID   string
	Body []byte
}

// cloudTrailDetail is the detail of an EventBridge "AWS API Call via
// CloudTrail" event.
type cloudTrailDetail struct {
	EventName          string    `json:"eventName"`
	EventSource        string    `json:"eventSource"`
	EventTime          time.Time `json:"eventTime"`
	AWSRegion          string    `json:"awsRegion"`
	RecipientAccountID string    `json:"recipientAccountId"`
	UserIdentity       struct {
		AccountID string `json:"accountId"`
	} `json:"userIdentity"`
	RequestParameters struct {
		BucketName  string `json:"bucketName"`
		KeyID       string `json:"keyId"`
		TargetKeyID string `json:"targetKeyId"`
		AliasName   string `json:"aliasName"`
	} `json:"requestParameters"`
	ResponseElements struct {
		KeyMetadata struct {
			KeyID string `json:"keyId"`
		} `json:"keyMetadata"`
	} `json:"responseElements"`
}

// envelope covers every accepted payload shape: an SQS batch, an
// EventBridge event and a direct invocation.
type envelope struct {
	Records []struct {
		MessageID string `json:"messageId"`
		Body      string `json:"body"`
	} `json:"Records"`

	Source  string            `json:"source"`
	Account string            `json:"account"`
	Region  string            `json:"region"`
	Time    time.Time         `json:"time"`
	Detail  *cloudTrailDetail `json:"detail"`

	BucketName string `json:"bucket_name"`
	KeyID      string `json:"key_id"`
	AccountID  string `json:"account_id"`
	EventName  string `json:"event_name"`
}

// Split expands an SQS batch payload ({"Records": [...]}) into one message
// per record. Any other payload is returned as a single message.
func Split(payload []byte) ([]Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Records) == 0 {
		return []Message{{Body: payload}}, nil
	}
	out := make([]Message, 0, len(env.Records))
	for i, r := range env.Records {
		id := r.MessageID
		if id == "" {
			id = fmt.Sprintf("record-%d", i)
		}
		out = append(out, Message{ID: id, Body: []byte(r.Body)})
	}
	return out, nil
}

// Parse decodes one message body into an Event. CloudTrail events arriving
// through EventBridge and direct invocations ({"bucket_name"|"key_id",
// "region", "account_id", "event_name"}) are accepted.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Event
	if env.Detail != nil {
		ev = fromCloudTrail(env)
	} else {
		ev = fromDirect(env)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func fromCloudTrail(env envelope) Event {
	d := env.Detail
	ev := Event{
		ResourceKind: kindForSource(d.EventSource, env.Source),
		Region:       firstNonEmpty(d.AWSRegion, env.Region),
		AccountID:    firstNonEmpty(d.RecipientAccountID, d.UserIdentity.AccountID, env.Account),
		EventName:    d.EventName,
		EventTime:    d.EventTime,
		Kind:         Classify(d.EventName),
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = env.Time
	}
	switch ev.ResourceKind {
	case models.ResourceBucket:
		ev.ResourceName = d.RequestParameters.BucketName
	case models.ResourceKey:
		ev.ResourceName = firstNonEmpty(
			d.RequestParameters.KeyID,
			d.RequestParameters.TargetKeyID,
			d.ResponseElements.KeyMetadata.KeyID,
		)
		// DeleteAlias names only the alias; the key it pointed at is unknown.
		if ev.ResourceName == "" && d.RequestParameters.AliasName != "" {
			ev.ResourceName = d.RequestParameters.AliasName
			ev.Kind = KindIgnore
		}
	}
	return ev
}

func fromDirect(env envelope) Event {
	ev := Event{
		Region:    env.Region,
		AccountID: env.AccountID,
		EventName: env.EventName,
		Kind:      KindModify,
	}
	switch {
	case env.BucketName != "":
		ev.ResourceKind = models.ResourceBucket
		ev.ResourceName = env.BucketName
	case env.KeyID != "":
		ev.ResourceKind = models.ResourceKey
		ev.ResourceName = env.KeyID
	}
	if env.EventName != "" {
		if k := Classify(env.EventName); k != KindIgnore {
			ev.Kind = k
		}
	}
	return ev
}

// kindForSource maps a CloudTrail event source or EventBridge source to a
// resource kind.
func kindForSource(sources ...string) models.ResourceKind {
	for _, s := range sources {
		switch s {
		case "s3.amazonaws.com", "aws.s3":
			return models.ResourceBucket
		case "kms.amazonaws.com", "aws.kms":
			return models.ResourceKey
		}
	}
	return ""
}

// modifyPrefixes are API call prefixes that can change a resource's
// security configuration.
var modifyPrefixes = []string{"Put", "Delete", "Enable", "Disable", "Update", "Tag", "Untag"}

// Classify maps a CloudTrail event name to a lifecycle kind.
func Classify(eventName string) Kind {
	switch eventName {
	case "CreateBucket", "CreateKey", "ReplicateKey", "ImportKeyMaterial":
		return KindCreate
	case "DeleteBucket":
		return KindDelete
	case "ScheduleKeyDeletion", "CancelKeyDeletion",
		"CreateGrant", "RetireGrant", "RevokeGrant",
		"CreateAlias", "DeleteAlias", "UpdateAlias":
		return KindModify
	}
	for _, p := range modifyPrefixes {
		if strings.HasPrefix(eventName, p) {
			return KindModify
		}
	}
	return KindIgnore
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
