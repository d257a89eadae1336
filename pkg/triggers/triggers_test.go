package triggers

import (
	"strings"
	"testing"
)

func TestValidateIdleAlarm(t *testing.T) {
	tests := []struct {
		name    string
		alarm   IdleAlarm
		wantErr string
	}{
		{
			name:  "valid",
			alarm: IdleAlarm{AlarmID: "valheim-idle", Trigger: "no players for 10 minutes"},
		},
		{
			name:  "trigger optional",
			alarm: IdleAlarm{AlarmID: "valheim-idle"},
		},
		{
			name:    "missing alarm id",
			alarm:   IdleAlarm{Trigger: "whatever"},
			wantErr: "alarmID is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.alarm)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInstanceStateChange(t *testing.T) {
	valid := InstanceStateChange{InstanceID: "i-0abc", State: "stopped"}
	if err := Validate(valid); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	bad := InstanceStateChange{InstanceID: "i-0abc", State: "rebooting"}
	err := Validate(bad)
	if err == nil || !strings.Contains(err.Error(), "must be one of") {
		t.Fatalf("Validate() = %v, want oneof error", err)
	}

	missing := InstanceStateChange{State: "running"}
	if err := Validate(missing); err == nil {
		t.Fatal("Validate() accepted a report without an instance id")
	}
}

func TestInstanceStateChangeStopped(t *testing.T) {
	if !(InstanceStateChange{State: "stopped"}).Stopped() {
		t.Error("Stopped() = false for stopped")
	}
	if !(InstanceStateChange{State: "Stopped"}).Stopped() {
		t.Error("Stopped() is case-sensitive")
	}
	if (InstanceStateChange{State: "running"}).Stopped() {
		t.Error("Stopped() = true for running")
	}
}

func TestValidateServerReady(t *testing.T) {
	if err := Validate(ServerReady{JoinCode: "123456"}); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	// Crossplay disabled: the server boots without a join code.
	if err := Validate(ServerReady{}); err != nil {
		t.Fatalf("Validate() rejected an empty join code: %v", err)
	}

	long := ServerReady{JoinCode: strings.Repeat("9", 40)}
	if err := Validate(long); err == nil {
		t.Fatal("Validate() accepted an oversized join code")
	}
}

func TestValidateServerStopped(t *testing.T) {
	ok := ServerStopped{Reason: "requested", BackupCompleted: true}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	if err := Validate(ServerStopped{}); err == nil {
		t.Fatal("Validate() accepted a stop report without a reason")
	}
}

func TestValidateBackupCompleted(t *testing.T) {
	if err := Validate(BackupCompleted{SizeBytes: 1 << 20, Archive: "midgard-20260829.tar.gz"}); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	if err := Validate(BackupCompleted{SizeBytes: -1}); err == nil {
		t.Fatal("Validate() accepted a negative archive size")
	}
}
