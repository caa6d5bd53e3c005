package validation

import (
	"strings"
	"testing"

	"chatsync/pkg/models"
)

func TestValidateSend(t *testing.T) {
	if err := ValidateSend(models.SendRequest{Content: "hi"}); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if err := ValidateSend(models.SendRequest{}); err == nil {
		t.Fatalf("empty content accepted")
	}
	if err := ValidateSend(models.SendRequest{TaskID: -5, Content: "hi"}); err == nil {
		t.Fatalf("temporary task id accepted")
	}
	big := strings.Repeat("x", Get().MaxContentBytes+1)
	if err := ValidateSend(models.SendRequest{Content: big}); err == nil {
		t.Fatalf("oversized content accepted")
	}
}

func TestValidateTurn(t *testing.T) {
	ok := models.Turn{Role: models.RoleUser, Status: models.TurnCompleted, SubtaskID: 1}
	if err := ValidateTurn(ok); err != nil {
		t.Fatalf("valid turn rejected: %v", err)
	}
	bad := ok
	bad.SubtaskID = 0
	if err := ValidateTurn(bad); err == nil {
		t.Fatalf("turn without subtask id accepted")
	}
	bad = ok
	bad.Status = "exploded"
	if err := ValidateTurn(bad); err == nil {
		t.Fatalf("unknown status accepted")
	}
	bad = ok
	bad.Role = "narrator"
	if err := ValidateTurn(bad); err == nil {
		t.Fatalf("unknown role accepted")
	}
}
