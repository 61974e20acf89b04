package domain

import (
	"errors"
	"testing"
)

func TestParseJobTypeFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    JobType
		wantErr bool
	}{
		{name: "valid uppercase", input: "CODE_DISTRIBUTION", want: JobTypeCodeDistribution},
		{name: "valid lowercase with dashes", input: " dealer-invitation ", want: JobTypeDealerInvitation},
		{name: "invalid", input: "plant_analysis", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseJobTypeFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseJobTypeFromString() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJobTypeFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseJobTypeFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[JobStatus]bool{
		JobStatusPending:        false,
		JobStatusProcessing:     false,
		JobStatusCompleted:      true,
		JobStatusPartialSuccess: true,
		JobStatusFailed:         true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestTerminalStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		success int
		failure int
		want    JobStatus
	}{
		{name: "all succeeded", success: 10, failure: 0, want: JobStatusCompleted},
		{name: "all failed", success: 0, failure: 10, want: JobStatusFailed},
		{name: "mixed", success: 8, failure: 2, want: JobStatusPartialSuccess},
		{name: "single row success", success: 1, failure: 0, want: JobStatusCompleted},
		{name: "single row failure", success: 0, failure: 1, want: JobStatusFailed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := TerminalStatusFor(tt.success, tt.failure); got != tt.want {
				t.Fatalf("TerminalStatusFor(%d, %d) = %s, want %s", tt.success, tt.failure, got, tt.want)
			}
		})
	}
}

func TestCountersPercentageAndDone(t *testing.T) {
	t.Parallel()

	c := Counters{TotalItems: 3, ProcessedItems: 1, SuccessCount: 1}
	if got := c.Percentage(); got != 33.33 {
		t.Fatalf("Percentage() = %v, want 33.33", got)
	}
	if c.Done() {
		t.Fatal("Done() = true, want false")
	}
	if !c.Consistent() {
		t.Fatal("Consistent() = false, want true")
	}

	c.ProcessedItems = 3
	c.FailureCount = 2
	if !c.Done() {
		t.Fatal("Done() = false, want true")
	}
	if got := c.TerminalStatus(); got != JobStatusPartialSuccess {
		t.Fatalf("TerminalStatus() = %s, want %s", got, JobStatusPartialSuccess)
	}

	if (Counters{}).Percentage() != 0 {
		t.Fatal("Percentage() on zero total should be 0")
	}
}

func TestBulkJobValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     BulkJob
		wantErr bool
	}{
		{
			name: "valid dealer invitation",
			job:  BulkJob{OwnerID: "sponsor-1", JobType: JobTypeDealerInvitation, TotalItems: 2, Config: JobConfig{DeliveryChannel: ChannelEmail}},
		},
		{
			name:    "missing owner",
			job:     BulkJob{JobType: JobTypeDealerInvitation, TotalItems: 1},
			wantErr: true,
		},
		{
			name:    "zero rows",
			job:     BulkJob{OwnerID: "sponsor-1", JobType: JobTypeFarmerInvitation},
			wantErr: true,
		},
		{
			name:    "subscription without default tier",
			job:     BulkJob{OwnerID: "admin", JobType: JobTypeSubscriptionAssignment, TotalItems: 1, Config: JobConfig{DefaultDurationDays: 30}},
			wantErr: true,
		},
		{
			name:    "code distribution over email",
			job:     BulkJob{OwnerID: "sponsor-1", JobType: JobTypeCodeDistribution, TotalItems: 1, Config: JobConfig{SendNotification: true, DeliveryChannel: ChannelEmail}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.job.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestMessagingFlagsEnabled(t *testing.T) {
	t.Parallel()

	flags := MessagingFlags{SMS: true}
	if !flags.Enabled(ChannelSMS) {
		t.Fatal("SMS should be enabled")
	}
	if flags.Enabled(ChannelWhatsApp) {
		t.Fatal("WhatsApp should be disabled")
	}
	if !flags.Enabled(ChannelNone) {
		t.Fatal("none channel should always be enabled")
	}
}
