package ecobee

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/thermoctl/internal/oauth"
	"github.com/joshp123/thermoctl/internal/thermostat"
)

const thermostatJSON = `{
  "thermostatList": [{
    "identifier": "311012345678",
    "name": "Hallway",
    "lastModified": "2024-03-01 17:04:05",
    "equipmentStatus": "fan, compCool1",
    "runtime": {"connected": true, "actualTemperature": 712, "actualHumidity": 41,
                "desiredHeat": 700, "desiredCool": 750, "desiredFanMode": "auto"},
    "settings": {"hvacMode": "auto", "heatCoolMinDelta": 50,
                 "heatRangeLow": 450, "heatRangeHigh": 790, "coolRangeLow": 650, "coolRangeHigh": 920},
    "events": [
      {"type": "vacation", "running": false, "endDate": "2024-04-01", "endTime": "00:00:00"},
      {"type": "hold", "running": true, "endDate": "2024-03-01", "endTime": "18:30:00"}
    ]
  }],
  "status": {"code": 0, "message": ""}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"})
	client, err := NewClient(server.URL, tokens, WithHTTPClient(server.Client()), WithLocation(time.UTC))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestThermostatSnapshot(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/1/thermostat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		var body struct {
			Selection map[string]any `json:"selection"`
		}
		if err := json.Unmarshal([]byte(r.URL.Query().Get("body")), &body); err != nil {
			t.Errorf("body param: %v", err)
		}
		if body.Selection["selectionType"] != "registered" {
			t.Errorf("selectionType = %v", body.Selection["selectionType"])
		}
		for _, flag := range []string{
			"includeSettings", "includeSensors", "includeEquipmentStatus", "includeWeather",
			"includeDevice", "includeEvents", "includeProgram", "includeRuntime", "includeEnergy",
			"includeElectricity", "includeExtendedRuntime", "includeNotificationSettings", "includeAlerts",
		} {
			if body.Selection[flag] != true {
				t.Errorf("%s not set", flag)
			}
		}
		_, _ = io.WriteString(w, thermostatJSON)
	})

	snap, err := client.Thermostat(context.Background())
	if err != nil {
		t.Fatalf("Thermostat: %v", err)
	}
	if snap.Identifier != "311012345678" || snap.Name != "Hallway" || !snap.Connected {
		t.Fatalf("identity = %+v", snap)
	}
	if snap.DesiredHeat != 70 || snap.DesiredCool != 75 || snap.HeatCoolMinDelta != 5 {
		t.Fatalf("setpoints = %v/%v delta %v", snap.DesiredHeat, snap.DesiredCool, snap.HeatCoolMinDelta)
	}
	if snap.HeatRangeLow != 45 || snap.HeatRangeHigh != 79 || snap.CoolRangeLow != 65 || snap.CoolRangeHigh != 92 {
		t.Fatalf("ranges = %+v", snap)
	}
	if snap.ActualTemperature == nil || *snap.ActualTemperature != 71.2 {
		t.Fatalf("ActualTemperature = %v", snap.ActualTemperature)
	}
	if snap.ActualHumidity == nil || *snap.ActualHumidity != 41 {
		t.Fatalf("ActualHumidity = %v", snap.ActualHumidity)
	}
	if want := time.Date(2024, 3, 1, 17, 4, 5, 0, time.UTC); !snap.LastModified.Equal(want) {
		t.Fatalf("LastModified = %v, want %v", snap.LastModified, want)
	}
	if snap.EventType != "hold" || snap.EventEnd == nil || !snap.EventEnd.Equal(time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)) {
		t.Fatalf("event = %q %v", snap.EventType, snap.EventEnd)
	}
	if !reflect.DeepEqual(snap.EquipmentStatus, []string{"fan", "compCool1"}) {
		t.Fatalf("EquipmentStatus = %v", snap.EquipmentStatus)
	}
}

func TestThermostatSensorUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"thermostatList":[{"identifier":"1","runtime":{"actualTemperature":-5002,"desiredHeat":680,"desiredCool":720}}],"status":{"code":0}}`)
	})

	snap, err := client.Thermostat(context.Background())
	if err != nil {
		t.Fatalf("Thermostat: %v", err)
	}
	if snap.ActualTemperature != nil || snap.ActualHumidity != nil {
		t.Fatalf("expected no readings, got %v %v", snap.ActualTemperature, snap.ActualHumidity)
	}
	if !snap.LastModified.IsZero() || snap.EventEnd != nil {
		t.Fatalf("expected zero timestamps: %+v", snap)
	}
}

func TestThermostatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "auth expired",
			status: http.StatusInternalServerError,
			body:   `{"status":{"code":14,"message":"Authentication token has expired."}}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, oauth.ErrAuthExpired) {
					t.Fatalf("err = %v, want ErrAuthExpired", err)
				}
			},
		},
		{
			name:   "other vendor status",
			status: http.StatusInternalServerError,
			body:   `{"status":{"code":3,"message":"Processing error."}}`,
			check: func(t *testing.T, err error) {
				var apiErr APIError
				if !errors.As(err, &apiErr) || apiErr.Code != 3 || apiErr.HTTPStatus != 500 {
					t.Fatalf("err = %v, want APIError code 3", err)
				}
				if errors.Is(err, oauth.ErrAuthExpired) {
					t.Fatalf("status 3 treated as auth expiry")
				}
			},
		},
		{
			name:   "plain http failure",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				var httpErr HTTPStatusError
				if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway {
					t.Fatalf("err = %v, want HTTPStatusError 502", err)
				}
			},
		},
		{
			name:   "empty list",
			status: http.StatusOK,
			body:   `{"thermostatList":[],"status":{"code":0}}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoThermostat) {
					t.Fatalf("err = %v, want ErrNoThermostat", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.Thermostat(context.Background())
			tt.check(t, err)
		})
	}
}

func TestSetHoldPayload(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"status":{"code":0,"message":""}}`)
	})

	heat, cool := 72.0, 75.5
	fan := thermostat.FanOn
	status, err := client.SetHold(context.Background(), thermostat.HoldParams{
		Fan:          &fan,
		HeatHoldTemp: &heat,
		CoolHoldTemp: &cool,
		HoldType:     thermostat.HoldIndefinite,
	})
	if err != nil {
		t.Fatalf("SetHold: %v", err)
	}
	if !status.OK() {
		t.Fatalf("status = %+v", status)
	}

	selection := got["selection"].(map[string]any)
	if selection["selectionType"] != "registered" {
		t.Fatalf("selection = %v", selection)
	}
	if _, ok := selection["includeRuntime"]; ok {
		t.Fatalf("write selection carries include flags: %v", selection)
	}
	functions := got["functions"].([]any)
	if len(functions) != 1 {
		t.Fatalf("functions = %v", functions)
	}
	fn := functions[0].(map[string]any)
	params := fn["params"].(map[string]any)
	want := map[string]any{"holdType": "indefinite", "heatHoldTemp": 720.0, "coolHoldTemp": 755.0, "fan": "on"}
	if fn["type"] != "setHold" || !reflect.DeepEqual(params, want) {
		t.Fatalf("function = %v, want params %v", fn, want)
	}
}

func TestSetHoldOmitsUnsetFields(t *testing.T) {
	var got struct {
		Functions []struct {
			Params map[string]any `json:"params"`
		} `json:"functions"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"status":{"code":0}}`)
	})

	fan := thermostat.FanAuto
	if _, err := client.SetHold(context.Background(), thermostat.HoldParams{Fan: &fan}); err != nil {
		t.Fatalf("SetHold: %v", err)
	}
	if !reflect.DeepEqual(got.Functions[0].Params, map[string]any{"fan": "auto"}) {
		t.Fatalf("params = %v, want fan only", got.Functions[0].Params)
	}
}

func TestSetHoldRejectedStatusIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"status":{"code":4,"message":"Serialization error."}}`)
	})

	heat, cool := 68.0, 72.0
	status, err := client.SetHold(context.Background(), thermostat.HoldParams{HeatHoldTemp: &heat, CoolHoldTemp: &cool})
	if err != nil {
		t.Fatalf("SetHold: %v", err)
	}
	if status.OK() || status.Code != 4 || status.Message != "Serialization error." {
		t.Fatalf("status = %+v", status)
	}
}

func TestSetHoldAuthExpired(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"status":{"code":14,"message":"Authentication token has expired."}}`)
	})

	heat, cool := 68.0, 72.0
	if _, err := client.SetHold(context.Background(), thermostat.HoldParams{HeatHoldTemp: &heat, CoolHoldTemp: &cool}); !errors.Is(err, oauth.ErrAuthExpired) {
		t.Fatalf("err = %v, want ErrAuthExpired", err)
	}
}
