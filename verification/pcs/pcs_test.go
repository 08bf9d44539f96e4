package pcs

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGetPCKCRL(t *testing.T) {
	assert := assert.New(t)
	client := &TrustedServicesClient{
		api:   &fakeAPI{},
		clock: testclock.NewFakeClock(blobs.PCSIssueDate),
	}

	crl, intermediateCert, err := client.GetPCKCRL(context.Background(), SGXPlatform)
	assert.NoError(err)
	assert.NotNil(crl)
	assert.NotNil(intermediateCert)
}

func TestGetTCBInfo(t *testing.T) {
	testCases := map[string]struct {
		api     *fakeAPI
		time    time.Time
		wantErr bool
	}{
		"success": {
			api:  &fakeAPI{tcbInfoJSON: blobs.TCBInfoJSON},
			time: blobs.PCSIssueDate,
		},
		"pcs error": {
			api: &fakeAPI{
				tcbInfoJSON: blobs.TCBInfoJSON,
				requestErr:  errors.New("failed"),
			},
			time:    blobs.PCSIssueDate,
			wantErr: true,
		},
		"tcb info expired": {
			api:     &fakeAPI{tcbInfoJSON: blobs.TCBInfoJSON},
			time:    blobs.PCSIssueDate.Add(24 * 356 * 50 * time.Hour), // 50 years later
			wantErr: true,
		},
		"tcb info not yet valid": {
			api:     &fakeAPI{tcbInfoJSON: blobs.TCBInfoJSON},
			time:    time.Time{},
			wantErr: true,
		},
		"tcb info invalid json": {
			api:     &fakeAPI{tcbInfoJSON: []byte("invalid json")},
			time:    blobs.PCSIssueDate,
			wantErr: true,
		},
		"tcb info invalid signature": {
			api: &fakeAPI{tcbInfoJSON: func() []byte {
				require := require.New(t)

				var tcbInfo struct {
					TCBInfo   json.RawMessage `json:"tcbInfo"`
					Signature string          `json:"signature"`
				}
				require.NoError(json.Unmarshal(blobs.TCBInfoJSON, &tcbInfo))
				tcbInfo.Signature = "00000000000000000000000000000000000000000000000000000000000000001111111111111111111111111111111111111111111111111111111111111111"
				tcbInfoJSON, err := json.Marshal(tcbInfo)
				require.NoError(err)
				return tcbInfoJSON
			}()},
			time:    blobs.PCSIssueDate,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			client := &TrustedServicesClient{
				api:   tc.api,
				clock: testclock.NewFakeClock(tc.time),
			}

			tcbInfo, err := client.GetTCBInfo(context.Background(), [6]byte{0x00, 0x90, 0x6E, 0xA1, 0x00, 0x00})
			if tc.wantErr {
				assert.Error(err)
				return
			}

			assert.NoError(err)
			assert.NotEmpty(tcbInfo)
		})
	}
}

func TestGetQEIdentity(t *testing.T) {
	testCases := map[string]struct {
		api     *fakeAPI
		time    time.Time
		wantErr bool
	}{
		"success": {
			api:  &fakeAPI{qeIdentityJSON: blobs.QEIdentityJSON},
			time: blobs.PCSIssueDate,
		},
		"pcs error": {
			api: &fakeAPI{
				qeIdentityJSON: blobs.QEIdentityJSON,
				requestErr:     errors.New("failed"),
			},
			time:    blobs.PCSIssueDate,
			wantErr: true,
		},
		"qe identity expired": {
			api:     &fakeAPI{qeIdentityJSON: blobs.QEIdentityJSON},
			time:    blobs.PCSIssueDate.Add(24 * 356 * 50 * time.Hour), // 50 years later
			wantErr: true,
		},
		"qe identity not yet valid": {
			api:     &fakeAPI{qeIdentityJSON: blobs.QEIdentityJSON},
			time:    time.Time{},
			wantErr: true,
		},
		"qe identity invalid json": {
			api:     &fakeAPI{qeIdentityJSON: []byte("invalid json")},
			time:    blobs.PCSIssueDate,
			wantErr: true,
		},
		"qe identity invalid signature": {
			api: &fakeAPI{qeIdentityJSON: func() []byte {
				require := require.New(t)

				var qeIdentity struct {
					QEIdentity json.RawMessage `json:"enclaveIdentity"`
					Signature  string          `json:"signature"`
				}
				require.NoError(json.Unmarshal(blobs.QEIdentityJSON, &qeIdentity))
				qeIdentity.Signature = "00000000000000000000000000000000000000000000000000000000000000001111111111111111111111111111111111111111111111111111111111111111"
				qeIdentityJSON, err := json.Marshal(qeIdentity)
				require.NoError(err)
				return qeIdentityJSON
			}()},
			time:    blobs.PCSIssueDate,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			client := &TrustedServicesClient{
				api:   tc.api,
				clock: testclock.NewFakeClock(tc.time),
			}

			qeIdentity, err := client.GetQEIdentity(context.Background())
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.NotNil(qeIdentity)
		})
	}
}

func TestVerifyChainRootCRLValidity(t *testing.T) {
	rootCert := crypto.MustParsePEMCertificate(blobs.RootCertPEM)
	intermediateCert := crypto.MustParsePEMCertificate(blobs.CRLSigningCertPEM)

	testCases := map[string]struct {
		time    time.Time
		wantErr string
	}{
		"root CRL valid": {
			time: blobs.PCSIssueDate,
		},
		"root CRL expired": {
			time:    blobs.PCSIssueDate.Add(24 * 356 * 50 * time.Hour), // 50 years later
			wantErr: "root CRL has expired",
		},
		"root CRL not yet valid": {
			time:    time.Time{},
			wantErr: "root CRL is not yet valid",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			client := &pcsAPIClient{
				rootCA: rootCert,
				client: &http.Client{Transport: &stubCRLTransport{crl: blobs.RootCACRLDER()}},
				clock:  testclock.NewFakeClock(tc.time),
			}

			intermediate, err := client.verifyChain(context.Background(), []*x509.Certificate{intermediateCert, rootCert})
			if tc.wantErr != "" {
				assert.ErrorContains(err, tc.wantErr)
				return
			}
			assert.NoError(err)
			assert.True(intermediate.Equal(intermediateCert))
		})
	}
}

// stubCRLTransport serves the given CRL for any request.
type stubCRLTransport struct {
	crl []byte
}

func (s *stubCRLTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(s.crl)),
		Header:     http.Header{},
	}, nil
}

type fakeAPI struct {
	tcbInfoJSON    []byte
	qeIdentityJSON []byte
	requestErr     error
}

func (f *fakeAPI) getFromPCS(_ context.Context, uri *url.URL, _ string) ([]byte, *x509.Certificate, error) {
	if f.requestErr != nil {
		return nil, nil, f.requestErr
	}

	signingCert := crypto.MustParsePEMCertificate(blobs.TCBSigningCertPEM)
	pckSigningCert := crypto.MustParsePEMCertificate(blobs.CRLSigningCertPEM)

	switch {
	case strings.Contains(uri.Path, pckcrlPath):
		return blobs.PCKCRLDER(), pckSigningCert, nil
	case strings.Contains(uri.Path, tcbPath):
		return f.tcbInfoJSON, signingCert, nil
	case strings.Contains(uri.Path, qePath):
		return f.qeIdentityJSON, signingCert, nil
	default:
		return nil, nil, fmt.Errorf("unexpected path: %s", uri.Path)
	}
}
