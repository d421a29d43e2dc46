package console

import (
	"fmt"
	"time"

	"github.com/shaunagostinho/luminox-dash/internal/luminox"
	"github.com/shaunagostinho/luminox-dash/internal/output"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(r luminox.Reading) error {
	if r.Error != "" {
		fmt.Printf("%s valid=false status=%q error=%q raw=%q\n", r.Time.Format(time.RFC3339), r.Status, r.Error, r.Raw)
		return nil
	}
	fmt.Printf("%s valid=%t ppO2=%.1f o2=%s temp=%.1f pressure=%s status=%s\n",
		r.Time.Format(time.RFC3339), r.Valid, r.PPO2, absent(r.O2Percent, r.HasO2Percent(), "%.2f"),
		r.Temperature, absent(r.Pressure, r.HasPressure(), "%.0f"), r.Status)
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

func absent(v float64, ok bool, format string) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf(format, v)
}
