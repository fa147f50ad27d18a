package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"homepro/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintBooking(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &models.Booking{
		ID: "b1", Status: models.StatusCompletedPendingPayment, CustomerID: "cust-1", ProID: "pro-1",
		Price: 12000, Currency: "usd", PaymentState: models.PaymentFailed, FailureReason: "card_declined",
		StatusHistory: []models.StatusEntry{
			{Status: models.StatusRequested, At: at, Actor: models.Actor{ID: "cust-1", Role: models.RoleCustomer}},
			{Status: models.StatusAccepted, At: at.Add(time.Minute), Actor: models.Actor{ID: "pro-1", Role: models.RolePro}},
		},
	}

	var buf bytes.Buffer
	printBooking(&buf, b)
	out := buf.String()

	assert.Contains(t, out, "Booking b1")
	assert.Contains(t, out, "12000 USD")
	assert.Contains(t, out, "Hold:      none")
	assert.Contains(t, out, "card_declined")
	assert.Contains(t, out, "pro/pro-1")
	assert.Equal(t, 2, strings.Count(out, "2024-06-01T12:0"))
}

func TestTokenCommandRejectsSystemRole(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "s")

	cmd := tokenCmd()
	cmd.SetArgs([]string{"ops", "system"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role must be")
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
