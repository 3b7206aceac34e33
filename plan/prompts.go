package plan

const analystSystemPrompt = `You are an intraday NIFTY index options analyst. You propose
long-only option buying setups (calls in uptrends, puts in downtrends)
for the current session, sized for a small retail account. Be concrete:
name strikes, premiums, stops and targets. Never propose selling or
writing options.`

const structurerSystemPrompt = `You convert a free-text options trade plan into strict JSON.
Output pure JSON with no markdown fences and no commentary. Omit any
trade you cannot express completely; never invent numbers that are not
in the plan text.`

const structurerSchema = `Convert the trade plan below into this exact JSON shape:

{
  "trades": [
    {
      "underlying": "NIFTY",
      "option_type": "CE|PE",
      "strike": 24000,
      "entry_price": 100.0,
      "stop_loss": 85.0,
      "target_1": 120.0,
      "target_2": 140.0,
      "quantity": 75,
      "entry_conditions": [
        {"indicator": "spot|premium", "operator": ">|>=|<|<=", "threshold": 24000}
      ],
      "valid_from": "09:30",
      "valid_until": "14:00",
      "delta": 0.45,
      "pattern": "breakout_bullish",
      "breakout_level": 24000,
      "reasoning": "one line"
    }
  ]
}

Rules:
1. stop_loss must be below entry_price.
2. Drop a trade entirely if the plan gives no entry price or no stop.
3. delta, targets, breakout_level and conditions are optional; omit
   when the plan does not state them.
4. Times are exchange-local HH:MM, 24-hour.

Plan text:
`
