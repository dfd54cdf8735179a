package models

import (
	"strings"
	"testing"
)

func TestEventFieldsValidate(t *testing.T) {
	tests := []struct {
		name    string
		fields  EventFields
		wantErr string
	}{
		{
			name:   "title only",
			fields: EventFields{Title: "Trailhead Meetup"},
		},
		{
			name:    "missing title",
			fields:  EventFields{Date: "2024-05-01"},
			wantErr: "title is required",
		},
		{
			name:    "title too long",
			fields:  EventFields{Title: strings.Repeat("x", MaxTitleLength+1)},
			wantErr: "title must be",
		},
		{
			name:   "multibyte title at limit",
			fields: EventFields{Title: strings.Repeat("é", MaxTitleLength)},
		},
		{
			name:    "multibyte title over limit",
			fields:  EventFields{Title: strings.Repeat("é", MaxTitleLength+1)},
			wantErr: "(got 501)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fields.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestEventFieldsComplete(t *testing.T) {
	full := EventFields{
		Title:       "Trailhead Meetup",
		Date:        "2024-05-01",
		Location:    "Park Gate",
		Description: "Bring water",
	}
	if err := full.Complete(); err != nil {
		t.Fatalf("Complete() unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(f *EventFields)
		wantErr string
	}{
		{"no date", func(f *EventFields) { f.Date = "" }, "date is required"},
		{"no location", func(f *EventFields) { f.Location = "" }, "location is required"},
		{"no description", func(f *EventFields) { f.Description = "" }, "description is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := full
			tt.mutate(&f)
			err := f.Complete()
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("Complete() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestMemberValidate(t *testing.T) {
	tests := []struct {
		name    string
		member  Member
		wantErr bool
	}{
		{"admin", Member{GroupID: 1, UserID: "alice", Role: RoleAdmin}, false},
		{"member", Member{GroupID: 1, UserID: "bob", Role: RoleMember}, false},
		{"no group", Member{UserID: "bob", Role: RoleMember}, true},
		{"no user", Member{GroupID: 1, Role: RoleMember}, true},
		{"bad role", Member{GroupID: 1, UserID: "bob", Role: "owner"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.member.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserJoinGroup(t *testing.T) {
	u := &User{Username: "alice", PasswordHash: "x", Role: RoleAdmin}
	u.JoinGroup(1)
	u.JoinGroup(2)
	u.JoinGroup(1)

	if len(u.Groups) != 2 || u.Groups[0] != 1 || u.Groups[1] != 2 {
		t.Errorf("Groups = %v, want [1 2]", u.Groups)
	}
	if err := u.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestGroupValidate(t *testing.T) {
	if err := (&Group{}).Validate(); err == nil {
		t.Error("expected error for empty name")
	}
	g := &Group{Name: "Hiking Club", Members: []Member{{UserID: "alice"}, {UserID: "bob"}}}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	if got := g.MemberNames(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("MemberNames() = %v", got)
	}
}
