// Command panel is the desktop control panel for the system manager.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
)

var classes = []string{"fan", "heater", "pump", "vent", "light"}

var modes = []string{"automatic", "manual", "hybrid", "failsafe"}

func main() {
	server := flag.String("server", "http://localhost:8080", "system manager API")
	flag.Parse()
	api := newAPIClient(*server)

	myApp := app.New()
	myWindow := myApp.NewWindow("Smart Farm Control Panel")
	myWindow.Resize(fyne.NewSize(600, 600))

	title := canvas.NewText("🌱 Smart Farm Control Panel", color.White)
	title.TextSize = 20
	title.TextStyle.Bold = true

	status := widget.NewLabel("Connecting...")
	climate := widget.NewLabel("")
	errLine := canvas.NewText("", color.RGBA{R: 0xff, G: 0x55, B: 0x55, A: 0xff})

	report := func(err error) {
		if err != nil {
			errLine.Text = fmt.Sprintf("Error: %v", err)
		} else {
			errLine.Text = ""
		}
		errLine.Refresh()
	}

	syncing := false
	modeSelect := widget.NewSelect(modes, func(m string) {
		if !syncing {
			report(api.setMode(m))
		}
	})

	stateLabels := map[string]*widget.Label{}
	rows := []fyne.CanvasObject{}
	for _, class := range classes {
		class := class
		stateLabels[class] = widget.NewLabel("-")
		rows = append(rows, container.NewHBox(
			widget.NewLabel(class),
			layout.NewSpacer(),
			stateLabels[class],
			widget.NewButton("Turn On", func() { report(api.command(class, true)) }),
			widget.NewButton("Turn Off", func() { report(api.command(class, false)) }),
			widget.NewButton("Auto", func() { report(api.release(class)) }),
		))
	}

	refresh := func() {
		v, err := api.actuators()
		if err != nil {
			report(err)
			return
		}
		status.SetText(panelStatus(v))
		if modeSelect.Selected != v.ConfiguredMode {
			syncing = true
			modeSelect.SetSelected(v.ConfiguredMode)
			syncing = false
		}
		for _, class := range classes {
			stateLabels[class].SetText(stateText(v, class))
		}
		if s, err := api.sensors(); err == nil {
			climate.SetText(climateText(s))
		}
	}

	go func() {
		for range time.Tick(2 * time.Second) {
			refresh()
		}
	}()

	myWindow.SetContent(container.NewVBox(
		container.NewCenter(title),
		container.NewCenter(status),
		container.NewCenter(climate),
		container.NewHBox(widget.NewLabel("Mode"), modeSelect),
		container.NewVBox(rows...),
		errLine,
	))
	myWindow.ShowAndRun()
}

var pluralOf = map[string]string{
	"fan":    "fans",
	"heater": "heaters",
	"pump":   "pumps",
	"vent":   "vents",
	"light":  "lights",
}

func panelStatus(v actuatorView) string {
	if v.Critical {
		return "⚠ FAIL-SAFE ACTIVE"
	}
	if v.EffectiveMode != v.ConfiguredMode {
		return fmt.Sprintf("Mode %s (running %s)", v.ConfiguredMode, v.EffectiveMode)
	}
	return "Mode " + v.ConfiguredMode
}

func stateText(v actuatorView, class string) string {
	s := "off"
	if v.States[pluralOf[class]] {
		s = "on"
	}
	overridden := map[string]bool{
		"fan":    v.HybridOverride.Fans,
		"heater": v.HybridOverride.Heaters,
		"pump":   v.HybridOverride.Pumps,
		"vent":   v.HybridOverride.Vents,
		"light":  v.HybridOverride.Lights,
	}[class]
	if overridden && v.ConfiguredMode == "hybrid" {
		s += " (manual)"
	}
	return s
}

func climateText(s sensorView) string {
	t, h := "--", "--"
	if s.Valid {
		t = fmt.Sprintf("%.1f°C", s.AvgTemp)
	}
	if s.HumValid {
		h = fmt.Sprintf("%.0f%%", s.AvgHum)
	}
	return fmt.Sprintf("Temperature %s  Humidity %s", t, h)
}
