package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvergeTCBStatus(t *testing.T) {
	testCases := map[string]struct {
		qeStatus       TCBStatus
		platformStatus TCBStatus
		want           TCBStatus
	}{
		"platform status passes through if QE is up to date": {
			qeStatus:       UpToDate,
			platformStatus: ConfigurationNeeded,
			want:           ConfigurationNeeded,
		},
		"up to date platform is downgraded by outdated QE": {
			qeStatus:       OutOfDate,
			platformStatus: UpToDate,
			want:           OutOfDate,
		},
		"sw hardening needed platform is downgraded by outdated QE": {
			qeStatus:       OutOfDate,
			platformStatus: SWHardeningNeeded,
			want:           OutOfDate,
		},
		"configuration needed platform is downgraded by outdated QE": {
			qeStatus:       OutOfDate,
			platformStatus: ConfigurationNeeded,
			want:           OutOfDateConfigurationNeeded,
		},
		"configuration and sw hardening needed platform is downgraded by outdated QE": {
			qeStatus:       OutOfDate,
			platformStatus: ConfigurationAndSWHardeningNeeded,
			want:           OutOfDateConfigurationNeeded,
		},
		"revoked platform stays revoked with outdated QE": {
			qeStatus:       OutOfDate,
			platformStatus: Revoked,
			want:           Revoked,
		},
		"out of date platform stays out of date with outdated QE": {
			qeStatus:       OutOfDate,
			platformStatus: OutOfDate,
			want:           OutOfDate,
		},
		"revoked QE does not change platform status": {
			qeStatus:       Revoked,
			platformStatus: UpToDate,
			want:           UpToDate,
		},
		"unknown QE does not change platform status": {
			qeStatus:       Unknown,
			platformStatus: SWHardeningNeeded,
			want:           SWHardeningNeeded,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tc.want, ConvergeTCBStatus(tc.qeStatus, tc.platformStatus))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert := assert.New(t)

	wantCodes := map[TCBStatus]uint8{
		UpToDate:                          0,
		OutOfDate:                         1,
		ConfigurationNeeded:               2,
		SWHardeningNeeded:                 3,
		ConfigurationAndSWHardeningNeeded: 4,
		OutOfDateConfigurationNeeded:      5,
		Revoked:                           6,
		Unknown:                           7,
	}
	for status, wantCode := range wantCodes {
		assert.Equal(wantCode, status.Code(), "status %s", status)
	}

	// statuses outside the known set map to the Unknown code
	assert.Equal(Unknown.Code(), TCBStatus("NotAStatus").Code())
}

func TestUnmarshalJSON(t *testing.T) {
	testCases := map[string]struct {
		json    string
		want    TCBStatus
		wantErr bool
	}{
		"up to date":         {json: `"UpToDate"`, want: UpToDate},
		"out of date":        {json: `"OutOfDate"`, want: OutOfDate},
		"sw hardening":       {json: `"SWHardeningNeeded"`, want: SWHardeningNeeded},
		"unknown status":     {json: `"TotallyFine"`, wantErr: true},
		"empty string":       {json: `""`, wantErr: true},
		"not a string":       {json: `42`, wantErr: true},
		"case sensitive":     {json: `"uptodate"`, wantErr: true},
		"converged downgrade": {json: `"OutOfDateConfigurationNeeded"`, want: OutOfDateConfigurationNeeded},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			var status TCBStatus
			err := json.Unmarshal([]byte(tc.json), &status)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, status)
		})
	}
}
