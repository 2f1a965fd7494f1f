package handlers

import (
	"net/http"
	"testing"

	"github.com/ptdewey/shutter"
	"github.com/stretchr/testify/require"
)

// TestSubmitReport_Snapshot pins the acknowledgement a reporter sees
func TestSubmitReport_Snapshot(t *testing.T) {
	tc := newTestContext(t)

	rec := call(t, tc.Handler.HandleSubmitReport, http.MethodPost, "/api/reports", testAlice, ReportRequest{
		ReportedUserID: testBob,
		TargetKind:     "post",
		TargetID:       "post-1",
		Reason:         "spam",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	shutter.SnapJSON(t, "report_received", rec.Body.String(),
		shutter.IgnoreKey("id"),
	)
}

// TestGetReport_Snapshot pins the queue entry moderators work from
func TestGetReport_Snapshot(t *testing.T) {
	tc := newTestContext(t)
	reportID := tc.fileReport(t, "post-1")

	rec := call(t, tc.Handler.HandleGetReport, http.MethodGet, "/api/reports/"+reportID, testMod, nil, "id", reportID)
	require.Equal(t, http.StatusOK, rec.Code)

	shutter.SnapJSON(t, "report_detail", rec.Body.String(),
		shutter.ScrubTimestamp(),
		shutter.IgnoreKey("id"),
		shutter.IgnoreKey("created_at"),
		shutter.IgnoreKey("updated_at"),
	)
}

// TestTakeAction_Snapshot pins the action record, payload included
func TestTakeAction_Snapshot(t *testing.T) {
	tc := newTestContext(t)
	reportID := tc.fileReport(t, "post-1")

	rec := call(t, tc.Handler.HandleTakeAction, http.MethodPost, "/api/reports/"+reportID+"/actions", testAdmin,
		ActionRequest{Kind: "user_banned", Reason: "ban evasion"}, "id", reportID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	shutter.SnapJSON(t, "action_ban_created", rec.Body.String(),
		shutter.ScrubTimestamp(),
		shutter.IgnoreKey("id"),
		shutter.IgnoreKey("report_id"),
		shutter.IgnoreKey("restriction_id"),
		shutter.IgnoreKey("created_at"),
	)

	// a second ban conflicts with the one in force
	second := tc.fileReport(t, "post-2")
	rec = call(t, tc.Handler.HandleTakeAction, http.MethodPost, "/api/reports/"+second+"/actions", testAdmin,
		ActionRequest{Kind: "user_banned", Reason: "again"}, "id", second)
	require.Equal(t, http.StatusConflict, rec.Code)

	shutter.SnapJSON(t, "action_already_restricted", rec.Body.String())

	rec = call(t, tc.Handler.HandleCheckRestriction, http.MethodGet, "/api/restrictions/"+testBob+"/check?capability=comment", testBob, nil, "user", testBob)
	require.Equal(t, http.StatusOK, rec.Code)

	shutter.SnapJSON(t, "restriction_check_banned", rec.Body.String())
}

// TestValidationError_Snapshot pins the error body clients key field errors on
func TestValidationError_Snapshot(t *testing.T) {
	tc := newTestContext(t)
	reportID := tc.fileReport(t, "post-1")

	rec := call(t, tc.Handler.HandleTakeAction, http.MethodPost, "/api/reports/"+reportID+"/actions", testMod,
		ActionRequest{Kind: "user_suspended", Reason: "spam"}, "id", reportID)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	shutter.SnapJSON(t, "action_missing_duration", rec.Body.String())
}
