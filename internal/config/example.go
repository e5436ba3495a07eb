package config

// Example is the annotated file written by `opsd config init`.
const Example = `# opsd configuration
database: opsd.db

# Async worker pool and retry scheduler.
workers: 4
poll_interval: 500ms
batch_size: 100

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 30s

log:
  level: info     # debug | info | warn | error
  format: text    # text | json

# Sizes and margins are in inches.
pdf:
  renderer_path: pdf-renderer
  chrome_path: /usr/bin/chromium
  output_dir: output
  default_orientation: portrait
  default_width: 8.5
  default_height: 11
  default_margin_top: 0.5
  default_margin_bottom: 0.5
  default_margin_left: 0.5
  default_margin_right: 0.5
  timeout: 60s

smtp:
  host: ""
  port: 587
  username: ""
  password: ""    # or SMTP_PASSWORD
  from: ""
  timeout: 30s

whatsapp:
  api_url: ""     # or WHATSAPP_API_URL
  session_id: ""  # or WHATSAPP_API_SESSION_ID

sms:
  webhook_url: ""
  token: ""       # or SMS_TOKEN
`
