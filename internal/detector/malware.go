package detector

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Malware detects device compromise from client-supplied device
// telemetry: app tampering, rooting, overlay attacks, clipboard
// hijacking, emulators.
type Malware struct {
	model *Model
}

// NewMalware creates the malware detector. model may be nil.
func NewMalware(model *Model) *Malware {
	return &Malware{model: model}
}

func (d *Malware) Name() string { return domain.SignalMalware }

func (d *Malware) Loaded() bool { return d.model != nil }

// Analyze scores a transaction for device-compromise risk. A missing
// DeviceContext means no telemetry was observed; features default to
// zero and the result reads as clean with moderate confidence.
func (d *Malware) Analyze(ctx context.Context, tx *domain.Transaction) domain.DetectorResult {
	dev := tx.Device
	if dev == nil {
		dev = &domain.DeviceContext{}
	}

	feats := map[string]float64{
		"app_modified":           boolFeat(dev.AppModified),
		"root_jailbreak":         boolFeat(dev.Rooted),
		"suspicious_permissions": float64(dev.PermissionCount) / 10.0,
		"unknown_source":         boolFeat(dev.Sideloaded),
		"overlay_attack":         boolFeat(dev.OverlayDetected),
		"clipboard_hijack":       boolFeat(dev.ClipboardHijack),
		"device_id_mismatch":     boolFeat(dev.DeviceMismatch),
		"emulator":               boolFeat(dev.EmulatorFlag),
	}

	if d.model != nil {
		score := d.model.Predict(feats)
		return domain.DetectorResult{
			AgentName:  d.Name(),
			Subscore:   score,
			Confidence: confidenceFrom(score),
			Indicators: d.indicators(dev, score),
		}
	}

	// Rule-only degraded mode.
	score := clamp01(
		feats["app_modified"]*0.35 +
			feats["root_jailbreak"]*0.25 +
			boolFeat(dev.PermissionCount > 5)*0.20 +
			feats["overlay_attack"]*0.15 +
			feats["emulator"]*0.05)

	return domain.DetectorResult{
		AgentName:  d.Name(),
		Subscore:   score,
		Confidence: 0.65,
		Indicators: d.indicators(dev, score),
	}
}

func (d *Malware) indicators(dev *domain.DeviceContext, score float64) []string {
	var ind []string

	if score > 0.7 {
		ind = append(ind, "High malware/compromise risk detected")
	}
	if dev.AppModified {
		ind = append(ind, "Payment app has been modified (tampering detected)")
	}
	if dev.Rooted {
		ind = append(ind, "Device is rooted/jailbroken (security risk)")
	}
	if dev.PermissionCount > 5 {
		ind = append(ind, fmt.Sprintf("App has %d suspicious permissions", dev.PermissionCount))
	}
	if dev.Sideloaded {
		ind = append(ind, "App installed from unknown source")
	}
	if dev.OverlayDetected {
		ind = append(ind, "Overlay attack detected (fake UI layer)")
	}
	if dev.ClipboardHijack {
		ind = append(ind, "Clipboard hijacking detected")
	}
	if dev.DeviceMismatch {
		ind = append(ind, "Device ID mismatch (possible cloned device)")
	}
	if dev.EmulatorFlag {
		ind = append(ind, "Running on emulator (automation risk)")
	}
	return ind
}
