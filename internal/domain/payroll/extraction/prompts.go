package extraction

import "github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"

const outputRules = "Rules:\n" +
	"- Copy amounts exactly as printed, keeping the document's separators (e.g. \"2.285.254,37\").\n" +
	"- Copy CUIT/CUIL identifiers as printed.\n" +
	"- Use null for any field that is not present. Never invent values.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

const aportesPrompt = "You are a parser for Argentine payroll contribution listings (\"aportes\").\n\n" +
	"Task:\n" +
	"- Read every row of the attached listing, across all pages.\n" +
	"- Output STRICT JSON only, a single object with these fields:\n" +
	"- \"document_type\": \"APORTES\"\n" +
	"- \"entity\": {\"name\": string, \"address\": string or null, \"tax_id\": string or null}\n" +
	"- \"period\": string as printed (e.g. \"03/2024\" or \"FOPID\")\n" +
	"- \"concept\": string\n" +
	"- \"entries\": array of {\"tax_id\": string or null, \"name\": string, \"total_remunerative\": string, " +
	"\"legajo_count\": integer, \"concept_amount\": string}\n" +
	"- \"totals\": {\"person_count\": integer, \"total_amount\": string}\n\n"

const transferPrompt = "You are a parser for Argentine bank transfer receipts (\"transferencias\").\n\n" +
	"Task:\n" +
	"- Output STRICT JSON only.\n" +
	"- For a receipt with one transfer use {\"document_type\": \"TRANSFERENCIA\", \"transfer\": {...}, " +
	"\"beneficiary\": {...}, \"payer\": {...}}.\n" +
	"- For a page listing several transfers use {\"document_type\": \"MULTI_TRANSFERENCIA\", " +
	"\"transfers\": [{\"transfer\": {...}, \"beneficiary\": {...}, \"payer\": {...}}]} in page order.\n\n" +
	"Fields:\n" +
	"- \"transfer\": {\"holder\", \"account_id\", \"operation_number\", \"timestamp\", \"amount\", " +
	"\"source_account\", \"bank\", \"operation_type\", \"reference\"}, all strings or null\n" +
	"- \"beneficiary\": {\"name\", \"tax_id\", \"address\", \"vat_condition\"}, all strings or null\n" +
	"- \"payer\": {\"name\", \"address\", \"tax_id\", \"gross_income_tax_id\"}, all strings or null\n\n"

const classifyPrompt = "The attached document is either an Argentine payroll contribution listing (\"aportes\") " +
	"or a bank transfer receipt (\"transferencia\"). Decide which, then follow the matching format.\n\n" +
	"Contribution listing format:\n" + aportesPrompt + "\nTransfer receipt format:\n" + transferPrompt

const textPreamble = "The document was not attached; below is the text recognized from it. " +
	"Read the values from this text.\n\n"

// promptFor returns the fixed instruction prompt for a document class.
func promptFor(class model.Classification) string {
	switch class {
	case model.ClassificationAportes:
		return aportesPrompt + outputRules
	case model.ClassificationTransferencia:
		return transferPrompt + outputRules
	}
	return classifyPrompt + outputRules
}
