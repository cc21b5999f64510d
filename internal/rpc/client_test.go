package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetChallengeParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChallengeResponse{
			Code:        ChallengeActive,
			ChallengeID: "c1",
			NoPreMine:   "pm1",
			Difficulty:  "00000000",
		})
	}))
	defer srv.Close()

	c := New(ProjectMidnight, srv.URL, time.Second)
	resp, err := c.GetChallenge(context.Background(), "addr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ChallengeID != "c1" || resp.Code != ChallengeActive {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !c.IsHealthy() {
		t.Fatal("expected client to be healthy after success")
	}
}

func TestSubmitSolutionAcceptedVsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SubmissionResponse{CryptoReceipt: "0xabc"})
	}))
	defer srv.Close()
	c := New(ProjectMidnight, srv.URL, time.Second)
	resp, err := c.SubmitSolution(context.Background(), "addr1", "c1", "nonce", "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Accepted() {
		t.Fatal("expected accepted")
	}
}

func TestClientMarksUnhealthyAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := New(ProjectMidnight, srv.URL, time.Second)
	for i := 0; i < 3; i++ {
		if _, err := c.GetChallenge(context.Background(), "addr1"); err == nil {
			t.Fatal("expected error")
		}
	}
	if c.IsHealthy() {
		t.Fatal("expected client to be unhealthy after 3 failures")
	}
}
