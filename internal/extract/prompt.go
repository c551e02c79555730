package extract

// receiptPrompt is the fixed extraction instruction sent with every receipt.
// It demands a strict JSON object in the normalized receipt shape.
const receiptPrompt = `You are a receipt data extraction assistant. Analyze the attached receipt document and extract its data.

Return a JSON object with EXACTLY this structure:
{
  "merchant": {
    "name": "",
    "address": "",
    "contact": ""
  },
  "transaction": {
    "date": "",
    "receipt_number": "",
    "payment_method": ""
  },
  "items": [
    {
      "name": "",
      "quantity": 1,
      "unitPrice": 0,
      "totalPrice": 0
    }
  ],
  "totals": {
    "subtotal": 0,
    "tax": 0,
    "total": 0,
    "currency": ""
  }
}

Rules:
- Dates must be ISO format "YYYY-MM-DD".
- Numeric fields must be numbers, NOT strings.
- If the receipt has no line items, use an empty array for "items".
- "currency" is the three-letter code (e.g. "USD", "EUR").
- If a field cannot be determined, use an empty string for text and 0 for numbers.

Return ONLY the raw JSON object.
Do NOT wrap the response in code fences.
Do NOT use ` + "```json" + ` or any Markdown.
Do NOT add explanations or any other text.`
