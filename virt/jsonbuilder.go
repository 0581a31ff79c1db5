package virt

import "github.com/tidwall/sjson"

// BuildQueryJobsJSON returns the QMP command listing background jobs.
func BuildQueryJobsJSON() string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "query-jobs")
	return json
}

// BuildJobCancelJSON returns the QMP command cancelling a background job by
// id.
func BuildJobCancelJSON(id string) string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "job-cancel")
	json, _ = sjson.Set(json, "arguments.id", id)
	return json
}

// BuildQueryBlockJSON returns the QMP command listing block devices.
func BuildQueryBlockJSON() string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "query-block")
	return json
}
