package jobs

import (
	"strings"
	"testing"
	"time"
)

func TestReminderKey(t *testing.T) {
	key := ReminderKey("7f1b8a9e", 24*time.Hour)
	if key != "apt_reminder_7f1b8a9e_1440m" {
		t.Fatalf("unexpected key %q", key)
	}
	if ReminderKey("7f1b8a9e", 60*time.Minute) != "apt_reminder_7f1b8a9e_60m" {
		t.Fatal("hour offset should render as 60m")
	}
}

func TestReminderKeyPrefix(t *testing.T) {
	prefix := ReminderKeyPrefix("7f1b8a9e")
	for _, offset := range []time.Duration{time.Hour, 24 * time.Hour, 48 * time.Hour} {
		if !strings.HasPrefix(ReminderKey("7f1b8a9e", offset), prefix) {
			t.Fatalf("key for offset %s does not match prefix %q", offset, prefix)
		}
	}
	if strings.HasPrefix(ReminderKey("7f1b8a9f", 24*time.Hour), prefix) {
		t.Fatal("prefix must not match another appointment's keys")
	}
	if strings.HasPrefix(ConfirmationKey("7f1b8a9e"), prefix) {
		t.Fatal("confirmation keys are outside the reminder prefix")
	}
}

func TestConfirmationKey(t *testing.T) {
	if ConfirmationKey("7f1b8a9e") != "apt_confirm_7f1b8a9e" {
		t.Fatalf("unexpected key %q", ConfirmationKey("7f1b8a9e"))
	}
}
