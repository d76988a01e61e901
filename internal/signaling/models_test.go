/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2026 Padcall and its licensors
 */

package signaling

import (
	"encoding/json"
	"testing"
)

func TestConnectionIDEqual(t *testing.T) {
	a := ConnectionID{Session: 100, Instance: 2}
	if !a.Equal(ConnectionID{Session: 100, Instance: 2}) {
		t.Error("identical ids not equal")
	}
	if a.Equal(ConnectionID{Session: 100, Instance: 1}) {
		t.Error("different instance considered equal")
	}
	if a.Equal(ConnectionID{Session: 101, Instance: 2}) {
		t.Error("different session considered equal")
	}
}

func TestSignalOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(&Signal{Invite: "invite"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"invite":"invite"}` {
		t.Errorf("unexpected wire form: %s", b)
	}
}

func TestDisabledValidate(t *testing.T) {
	for _, value := range []Disabled{"", DisabledNone, DisabledSoft, DisabledHard} {
		if err := value.Validate(); err != nil {
			t.Errorf("valid value %q rejected: %v", value, err)
		}
	}
	if err := Disabled("off").Validate(); err == nil {
		t.Error("invalid value accepted")
	}
}

func TestPadSettingsValidate(t *testing.T) {
	settings := &PadSettings{
		Enabled: true,
		Audio:   MediaSettings{Disabled: DisabledSoft},
		Video:   VideoSettings{Disabled: Disabled("invalid")},
	}
	if err := settings.Validate(); err == nil {
		t.Error("invalid video disabled value accepted")
	}
	settings.Video.Disabled = DisabledHard
	if err := settings.Validate(); err != nil {
		t.Errorf("valid settings rejected: %v", err)
	}
}
