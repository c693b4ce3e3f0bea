package model

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ClientFlags are passed through to the exam client untouched.
// The server never enforces them; it only reports what the client should do.
type ClientFlags struct {
	FullscreenRequired bool `json:"fullscreen_required"`
	BlockCopyPaste     bool `json:"block_copy_paste"`
	BlockRightClick    bool `json:"block_right_click"`
	BlockShortcuts     bool `json:"block_shortcuts"`
	WarnOnViolation    bool `json:"warn_on_violation"`
	DisableDevtool     bool `json:"disable_devtool"`
	NoSleep            bool `json:"nosleep"`
}

// ProctorPolicy is the resolved proctoring configuration for one exam.
type ProctorPolicy struct {
	ViolationThreshold int      `json:"violation_threshold"`
	CountingTypes      []string `json:"counting_types"`
	ClientFlags
}

// proctorPolicyOverride mirrors ProctorPolicy with pointer fields so that an
// exam can override only the keys it sets.
type proctorPolicyOverride struct {
	ViolationThreshold *int      `json:"violation_threshold"`
	CountingTypes      *[]string `json:"counting_types"`
	FullscreenRequired *bool     `json:"fullscreen_required"`
	BlockCopyPaste     *bool     `json:"block_copy_paste"`
	BlockRightClick    *bool     `json:"block_right_click"`
	BlockShortcuts     *bool     `json:"block_shortcuts"`
	WarnOnViolation    *bool     `json:"warn_on_violation"`
	DisableDevtool     *bool     `json:"disable_devtool"`
	NoSleep            *bool     `json:"nosleep"`
}

// Counts reports whether an event of the given type increments the
// violation counter. An empty counting set means every type counts.
func (p ProctorPolicy) Counts(eventType string) bool {
	if len(p.CountingTypes) == 0 {
		return true
	}
	return slices.Contains(p.CountingTypes, eventType)
}

// Resolve applies the exam's raw proctor_policy JSON on top of p and returns
// the merged policy. A null or empty document leaves p unchanged.
func (p ProctorPolicy) Resolve(raw json.RawMessage) (ProctorPolicy, error) {
	out := p
	out.CountingTypes = slices.Clone(p.CountingTypes)
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}

	var o proctorPolicyOverride
	if err := json.Unmarshal(raw, &o); err != nil {
		return p, fmt.Errorf("decode proctor policy: %w", err)
	}

	if o.ViolationThreshold != nil {
		if *o.ViolationThreshold <= 0 {
			return p, fmt.Errorf("decode proctor policy: violation_threshold must be positive, got %d", *o.ViolationThreshold)
		}
		out.ViolationThreshold = *o.ViolationThreshold
	}
	if o.CountingTypes != nil {
		out.CountingTypes = slices.Clone(*o.CountingTypes)
	}
	setBool(&out.FullscreenRequired, o.FullscreenRequired)
	setBool(&out.BlockCopyPaste, o.BlockCopyPaste)
	setBool(&out.BlockRightClick, o.BlockRightClick)
	setBool(&out.BlockShortcuts, o.BlockShortcuts)
	setBool(&out.WarnOnViolation, o.WarnOnViolation)
	setBool(&out.DisableDevtool, o.DisableDevtool)
	setBool(&out.NoSleep, o.NoSleep)
	return out, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
