package constants

const (
	// Commands.
	SetupCommandName   = "setup"
	StatsCommandName   = "stats"
	CheckCommandName   = "check"
	ReportCommandName  = "report"
	HistoryCommandName = "history"

	// Setup subcommands.
	SetupChannelSubcommand  = "channel"
	SetupTimeSubcommand     = "time"
	SetupTimezoneSubcommand = "timezone"
	SetupEnableSubcommand   = "enable"
	SetupDisableSubcommand  = "disable"
	SetupWebhookSubcommand  = "webhook"
	SetupViewSubcommand     = "view"

	// History subcommands.
	HistoryEventsSubcommand = "events"
	HistoryJoinsSubcommand  = "joins"

	// Stats subcommands.
	StatsTodaySubcommand     = "today"
	StatsYesterdaySubcommand = "yesterday"
	StatsWeekSubcommand      = "week"
	StatsMonthSubcommand     = "month"

	// Options.
	ChannelOption  = "channel"
	TimeOption     = "time"
	TimezoneOption = "timezone"
	URLOption      = "url"
	LimitOption    = "limit"

	// Stats windows.
	WeekDays  = 7
	MonthDays = 30

	// Embeds.
	DefaultEmbedColor = 0x5865F2
	SuccessEmbedColor = 0x00FF00
	WarningEmbedColor = 0xFF9900
	ChartFileName     = "breakdown.png"

	// Common.
	NotConfigured = "Not configured"
)

// Timezone is a preset timezone choice offered by /setup timezone.
type Timezone struct {
	Name  string
	Value string
}

// TimezoneChoices are the presets offered by /setup timezone.
var TimezoneChoices = []Timezone{
	{Name: "UTC", Value: "UTC"},
	{Name: "Singapore (UTC+8)", Value: "Asia/Singapore"},
	{Name: "Manila (UTC+8)", Value: "Asia/Manila"},
	{Name: "Tokyo (UTC+9)", Value: "Asia/Tokyo"},
	{Name: "Sydney (UTC+10/+11)", Value: "Australia/Sydney"},
	{Name: "London (UTC+0/+1)", Value: "Europe/London"},
	{Name: "New York (UTC-5/-4)", Value: "America/New_York"},
	{Name: "Los Angeles (UTC-8/-7)", Value: "America/Los_Angeles"},
}
