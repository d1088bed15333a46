package main

const defaultPoliciesTemplate = `# Smithers safety policies. Every value here has a sane default;
# delete anything you don't want to override.

budgets:
  max_run_seconds: 1200
  max_steps: 200
  max_screenshots: 300
  max_requests: 100

breakers:
  threshold: 5
  cooldown: 30s

loops:
  window: 20
  threshold: 3

watchdog:
  beat_target: 2s
  staleness: 10s
  check_interval: 1s

pause:
  poll_interval: 500ms

checkpoint:
  backend: file # or "badger"
  keep: 5

planner:
  max_retries: 2
  retry_delay: 1s

requests:
  per_minute: 0 # 0 disables rate limiting

escalation:
  loops_before_abort: 3
  blocked_before_abort: 0 # 0 skips blocked steps forever
`

const defaultPlanTemplate = `# Steps for the run, executed in order. Edit this file and unpause to
# change course mid-run; the planner re-reads it on every replan.

goal: say hello

steps:
  - tool: command
    params: echo "hello from smithers"
    description: prove the loop works
  - tool: command
    params: date
    description: note the time
`
