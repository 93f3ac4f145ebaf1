// Package prayer publishes the daily prayer schedule for a city using the
// Aladhan timings API.
package prayer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/providers"
	"github.com/Tayen15/KZT-sub000/pkg/theme"
)

// DefaultAPIBase is the public Aladhan endpoint.
const DefaultAPIBase = "https://api.aladhan.com/v1"

// Provider settings.
const (
	SettingCity     = "city"
	SettingCountry  = "country"
	SettingMethod   = "method"
	SettingAPIBase  = "api_base"
	SettingTitle    = "title"
	SettingTimezone = "timezone" // used when the API omits one
)

// Snapshot attributes.
const (
	AttrTimings  = "timings"   // map[string]string, prayer -> "15:04"
	AttrNext     = "next"      // prayer name
	AttrNextAt   = "next_at"   // time.Time
	AttrDate     = "date"      // readable date
	AttrTimezone = "timezone"
	AttrLocation = "location"
)

// Prayers lists the five daily prayers in order.
var Prayers = []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

type timingsResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
		Date    struct {
			Readable string `json:"readable"`
		} `json:"date"`
		Meta struct {
			Timezone string `json:"timezone"`
		} `json:"meta"`
	} `json:"data"`
}

// Provider fetches a day's timings and works out the next prayer.
type Provider struct {
	client *providers.Client
	now    func() time.Time
}

// New creates a Provider.
func New(client *providers.Client) *Provider {
	return &Provider{client: client, now: time.Now}
}

// Fetch implements monitor.StatusProvider. A schedule is always "running"
// once timings are available.
func (p *Provider) Fetch(ctx context.Context, target monitor.MonitorTarget) (monitor.StatusSnapshot, error) {
	city := target.ProviderValue(SettingCity, "")
	country := target.ProviderValue(SettingCountry, "")
	if city == "" || country == "" {
		return monitor.StatusSnapshot{}, fmt.Errorf("monitor %s: %s and %s are required", target.MonitorKey, SettingCity, SettingCountry)
	}
	base := strings.TrimRight(target.ProviderValue(SettingAPIBase, DefaultAPIBase), "/")

	q := url.Values{}
	q.Set("city", city)
	q.Set("country", country)
	q.Set("method", target.ProviderValue(SettingMethod, "20"))

	var resp timingsResponse
	if err := p.client.GetJSON(ctx, base+"/timingsByCity?"+q.Encode(), nil, &resp); err != nil {
		return monitor.StatusSnapshot{}, err
	}
	if len(resp.Data.Timings) == 0 {
		return monitor.StatusSnapshot{}, fmt.Errorf("monitor %s: no timings in response", target.MonitorKey)
	}

	tzName := resp.Data.Meta.Timezone
	if tzName == "" {
		tzName = target.ProviderValue(SettingTimezone, "UTC")
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return monitor.StatusSnapshot{}, fmt.Errorf("monitor %s: timezone %q: %w", target.MonitorKey, tzName, err)
	}

	now := p.now()
	timings := make(map[string]string, len(Prayers))
	for _, name := range Prayers {
		if v, ok := resp.Data.Timings[name]; ok {
			timings[name] = cleanTime(v)
		}
	}
	next, at, err := NextPrayer(timings, now.In(loc))
	if err != nil {
		return monitor.StatusSnapshot{}, fmt.Errorf("monitor %s: %w", target.MonitorKey, err)
	}

	return monitor.StatusSnapshot{
		Online:    true,
		FetchedAt: now,
		Attributes: map[string]any{
			monitor.AttrStatus: monitor.StatusRunning,
			AttrTimings:        timings,
			AttrNext:           next,
			AttrNextAt:         at,
			AttrDate:           resp.Data.Date.Readable,
			AttrTimezone:       tzName,
			AttrLocation:       city + ", " + country,
		},
	}, nil
}

// cleanTime strips suffixes such as " (WIB)".
func cleanTime(v string) string {
	if i := strings.IndexByte(v, ' '); i >= 0 {
		return v[:i]
	}
	return v
}

// NextPrayer returns the first prayer after now. After Isha it is tomorrow's
// Fajr at today's listed time.
func NextPrayer(timings map[string]string, now time.Time) (string, time.Time, error) {
	for _, name := range Prayers {
		v, ok := timings[name]
		if !ok {
			continue
		}
		at, err := atClock(now, v)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%s time %q: %w", name, v, err)
		}
		if at.After(now) {
			return name, at, nil
		}
	}
	v, ok := timings[Prayers[0]]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no %s time", Prayers[0])
	}
	at, err := atClock(now.AddDate(0, 0, 1), v)
	if err != nil {
		return "", time.Time{}, err
	}
	return Prayers[0], at, nil
}

func atClock(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// Renderer draws the schedule embed.
type Renderer struct{}

// Render implements monitor.Renderer.
func (Renderer) Render(target monitor.MonitorTarget, snap monitor.StatusSnapshot) (message.Payload, error) {
	timings, _ := snap.Attributes[AttrTimings].(map[string]string)
	next := snap.String(AttrNext)

	embed := &discordgo.MessageEmbed{
		Title:     target.ProviderValue(SettingTitle, "Prayer times"),
		Color:     theme.Schedule(),
		Timestamp: snap.FetchedAt.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: snap.String(AttrTimezone)},
	}
	if loc, date := snap.String(AttrLocation), snap.String(AttrDate); loc != "" || date != "" {
		embed.Description = strings.TrimSpace(loc + "\n" + date)
	}
	for _, name := range Prayers {
		v, ok := timings[name]
		if !ok {
			continue
		}
		field := &discordgo.MessageEmbedField{Name: name, Value: v, Inline: true}
		if name == next {
			field.Name = "➡️ " + name
			if at, ok := snap.Attributes[AttrNextAt].(time.Time); ok {
				field.Value = fmt.Sprintf("%s (<t:%d:R>)", v, at.Unix())
			}
		}
		embed.Fields = append(embed.Fields, field)
	}
	return message.Payload{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}
