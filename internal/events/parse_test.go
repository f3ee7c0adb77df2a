package events

import (
	"errors"
	"testing"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

const cloudTrailBucket = `{
  "source": "aws.s3",
  "detail-type": "AWS API Call via CloudTrail",
  "account": "111111111111",
  "region": "us-east-1",
  "detail": {
    "eventSource": "s3.amazonaws.com",
    "eventName": "PutBucketPolicy",
    "awsRegion": "eu-west-1",
    "eventTime": "2026-03-01T10:00:00Z",
    "userIdentity": {"accountId": "123456789012"},
    "requestParameters": {"bucketName": "data-bucket"}
  }
}`

const cloudTrailCreateKey = `{
  "source": "aws.kms",
  "detail": {
    "eventSource": "kms.amazonaws.com",
    "eventName": "CreateKey",
    "awsRegion": "us-east-2",
    "recipientAccountId": "123456789012",
    "requestParameters": {},
    "responseElements": {"keyMetadata": {"keyId": "k-1"}}
  }
}`

// ── Parse ─────────────────────────────────────────────────────────────────────

func TestParse_CloudTrailBucket(t *testing.T) {
	ev, err := Parse([]byte(cloudTrailBucket))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ResourceKind != models.ResourceBucket || ev.ResourceName != "data-bucket" {
		t.Errorf("resource = %s/%s; want bucket/data-bucket", ev.ResourceKind, ev.ResourceName)
	}
	if ev.Kind != KindModify {
		t.Errorf("kind = %q; want modify", ev.Kind)
	}
	if ev.Region != "eu-west-1" {
		t.Errorf("region = %q; want eu-west-1", ev.Region)
	}
	if ev.AccountID != "123456789012" {
		t.Errorf("account = %q; want 123456789012", ev.AccountID)
	}
	if ev.EventTime.IsZero() {
		t.Error("event time should be parsed")
	}
}

func TestParse_CreateKeyUsesResponseKeyID(t *testing.T) {
	ev, err := Parse([]byte(cloudTrailCreateKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ResourceKind != models.ResourceKey || ev.ResourceName != "k-1" {
		t.Errorf("resource = %s/%s; want key/k-1", ev.ResourceKind, ev.ResourceName)
	}
	if ev.Kind != KindCreate {
		t.Errorf("kind = %q; want create", ev.Kind)
	}
}

func TestParse_AliasEventsUseTargetKey(t *testing.T) {
	for _, name := range []string{"CreateAlias", "UpdateAlias"} {
		body := `{
  "source": "aws.kms",
  "detail": {
    "eventSource": "kms.amazonaws.com",
    "eventName": "` + name + `",
    "awsRegion": "us-east-1",
    "recipientAccountId": "123456789012",
    "requestParameters": {"aliasName": "alias/app", "targetKeyId": "1234abcd-12ab-34cd-56ef-1234567890ab"},
    "responseElements": null
  }
}`
		ev, err := Parse([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if ev.ResourceKind != models.ResourceKey || ev.ResourceName != "1234abcd-12ab-34cd-56ef-1234567890ab" {
			t.Errorf("%s: resource = %s/%s; want the target key", name, ev.ResourceKind, ev.ResourceName)
		}
		if ev.Kind != KindModify {
			t.Errorf("%s: kind = %q; want modify", name, ev.Kind)
		}
	}
}

func TestParse_DeleteAliasWithoutTargetIsIgnored(t *testing.T) {
	body := `{
  "source": "aws.kms",
  "detail": {
    "eventSource": "kms.amazonaws.com",
    "eventName": "DeleteAlias",
    "awsRegion": "us-east-1",
    "requestParameters": {"aliasName": "alias/app"},
    "responseElements": null
  }
}`
	ev, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindIgnore || ev.ResourceName != "alias/app" {
		t.Errorf("event = %s %q; want ignore alias/app", ev.Kind, ev.ResourceName)
	}
}

func TestParse_DirectInvocation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		kind     Kind
		resource models.ResourceKind
		value    string
	}{
		{"bucket default modify", `{"bucket_name":"b1","region":"us-east-1","account_id":"1"}`, KindModify, models.ResourceBucket, "b1"},
		{"bucket delete", `{"bucket_name":"b1","event_name":"DeleteBucket"}`, KindDelete, models.ResourceBucket, "b1"},
		{"key", `{"key_id":"k1","region":"us-west-2"}`, KindModify, models.ResourceKey, "k1"},
		{"unknown name still audits", `{"bucket_name":"b1","event_name":"GetObject"}`, KindModify, models.ResourceBucket, "b1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Kind != tt.kind || ev.ResourceKind != tt.resource || ev.ResourceName != tt.value {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"region":"us-east-1"}`,
		`{"detail":{"eventSource":"ec2.amazonaws.com","eventName":"RunInstances"}}`,
		`{"detail":{"eventSource":"s3.amazonaws.com","eventName":"PutBucketAcl","requestParameters":{}}}`,
	} {
		if _, err := Parse([]byte(body)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%s) err = %v; want ErrMalformed", body, err)
		}
	}
}

// ── Split ─────────────────────────────────────────────────────────────────────

func TestSplit_Records(t *testing.T) {
	payload := `{"Records":[{"messageId":"m1","body":"{\"bucket_name\":\"a\"}"},{"body":"{\"bucket_name\":\"b\"}"}]}`
	msgs, err := Split([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d; want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "record-1" {
		t.Errorf("ids = %q, %q", msgs[0].ID, msgs[1].ID)
	}
	if string(msgs[1].Body) != `{"bucket_name":"b"}` {
		t.Errorf("body = %s", msgs[1].Body)
	}
}

func TestSplit_SingleEvent(t *testing.T) {
	msgs, err := Split([]byte(cloudTrailBucket))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != cloudTrailBucket {
		t.Errorf("msgs = %+v", msgs)
	}
}

// ── Classify ──────────────────────────────────────────────────────────────────

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"CreateBucket", KindCreate},
		{"CreateKey", KindCreate},
		{"DeleteBucket", KindDelete},
		{"PutBucketEncryption", KindModify},
		{"DeleteBucketPolicy", KindModify},
		{"PutKeyPolicy", KindModify},
		{"EnableKeyRotation", KindModify},
		{"DisableKey", KindModify},
		{"ScheduleKeyDeletion", KindModify},
		{"CreateGrant", KindModify},
		{"GetBucketAcl", KindIgnore},
		{"ListKeys", KindIgnore},
	}
	for _, tt := range tests {
		if got := Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %q; want %q", tt.name, got, tt.want)
		}
	}
}
