package cfg

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// fakeParamStore serves pages in order, keyed by NextToken.
type fakeParamStore struct {
	pages []ssm.GetParametersByPathOutput
	err   error
	calls []ssm.GetParametersByPathInput
}

func (f *fakeParamStore) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.calls = append(f.calls, *in)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.pages) {
		return &ssm.GetParametersByPathOutput{}, nil
	}
	out := f.pages[idx]
	return &out, nil
}

func param(name, value string) types.Parameter {
	return types.Parameter{Name: aws.String(name), Value: aws.String(value)}
}

func TestApplySSM_OverridesAcrossPages(t *testing.T) {
	store := &fakeParamStore{pages: []ssm.GetParametersByPathOutput{
		{
			Parameters: []types.Parameter{param("/app/npi/nv-origin", " https://ssm.example.com ")},
			NextToken:  aws.String("page-2"),
		},
		{
			Parameters: []types.Parameter{
				param("/app/npi/allowed-hosts", "api.example.com, *.example.org"),
				param("/app/npi/unrelated", "ignored"),
			},
		},
	}}

	sec := Security{NVOrigin: "http://localhost:3000", AllowedHosts: []string{"localhost"}}
	applied, err := ApplySSM(context.Background(), store, "/app/npi/", &sec)
	if err != nil {
		t.Fatalf("ApplySSM: %v", err)
	}

	if sec.NVOrigin != "https://ssm.example.com" {
		t.Errorf("NVOrigin: got %q", sec.NVOrigin)
	}
	if want := []string{"api.example.com", "*.example.org"}; !reflect.DeepEqual(sec.AllowedHosts, want) {
		t.Errorf("AllowedHosts: want %v, got %v", want, sec.AllowedHosts)
	}
	if want := []string{"nv-origin", "allowed-hosts"}; !reflect.DeepEqual(applied, want) {
		t.Errorf("applied: want %v, got %v", want, applied)
	}

	if len(store.calls) != 2 {
		t.Fatalf("calls: want 2, got %d", len(store.calls))
	}
	first := store.calls[0]
	if aws.ToString(first.Path) != "/app/npi" {
		t.Errorf("Path: want /app/npi, got %q", aws.ToString(first.Path))
	}
	if !aws.ToBool(first.WithDecryption) {
		t.Error("WithDecryption: want true")
	}
	if aws.ToString(store.calls[1].NextToken) != "page-2" {
		t.Errorf("second call NextToken: got %q", aws.ToString(store.calls[1].NextToken))
	}
}

func TestApplySSM_MissingParamsKeepValues(t *testing.T) {
	store := &fakeParamStore{pages: []ssm.GetParametersByPathOutput{{}}}
	sec := Security{NVOrigin: "https://keep.example.com", AllowedHosts: []string{"keep.example.com"}}

	applied, err := ApplySSM(context.Background(), store, "/app/npi", &sec)
	if err != nil {
		t.Fatalf("ApplySSM: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied: want none, got %v", applied)
	}
	if sec.NVOrigin != "https://keep.example.com" || !reflect.DeepEqual(sec.AllowedHosts, []string{"keep.example.com"}) {
		t.Errorf("values changed: %+v", sec)
	}
}

func TestApplySSM_BlankParamsUseDefaults(t *testing.T) {
	store := &fakeParamStore{pages: []ssm.GetParametersByPathOutput{{
		Parameters: []types.Parameter{
			param("/app/npi/nv-origin", " "),
			param("/app/npi/allowed-hosts", ""),
		},
	}}}
	sec := Security{NVOrigin: "https://keep.example.com", AllowedHosts: []string{"keep.example.com"}}

	if _, err := ApplySSM(context.Background(), store, "/app/npi", &sec); err != nil {
		t.Fatalf("ApplySSM: %v", err)
	}
	if sec.NVOrigin != DefaultNVOrigin {
		t.Errorf("NVOrigin: got %q, want %q", sec.NVOrigin, DefaultNVOrigin)
	}
	if want := []string{"localhost", "127.0.0.1"}; !reflect.DeepEqual(sec.AllowedHosts, want) {
		t.Errorf("AllowedHosts: want %v, got %v", want, sec.AllowedHosts)
	}
}

func TestApplySSM_Error(t *testing.T) {
	boom := errors.New("access denied")
	store := &fakeParamStore{err: boom}
	sec := Security{NVOrigin: "https://keep.example.com"}

	_, err := ApplySSM(context.Background(), store, "/app/npi", &sec)
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped access denied, got %v", err)
	}
	wantErrContains(t, err, "/app/npi")
	if sec.NVOrigin != "https://keep.example.com" {
		t.Errorf("NVOrigin changed on error: %q", sec.NVOrigin)
	}
}
