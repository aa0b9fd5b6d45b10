package logger

// Every diagnostic gets a message ID so that tools can match on it and so
// that non-error messages can have their level overridden. Overrides never
// turn an error into a non-error (otherwise the build would incorrectly
// succeed). Internal trace output that is not part of the diagnostics list
// goes through the tracer instead and uses no ID.
type MsgID = uint8

const (
	MsgID_None MsgID = iota

	// Scan
	MsgID_Scan_UnresolvedImport
	MsgID_Scan_LoadFailed
	MsgID_Scan_ParseFailed
	MsgID_Scan_IgnoredUnresolvedImport

	// Link
	MsgID_Link_NoMatchingExport
	MsgID_Link_CircularReexport
	MsgID_Link_AmbiguousExport
	MsgID_Link_ImportIsUndefined
	MsgID_Link_CircularDependency
	MsgID_Link_IneffectiveDynamicImport
	MsgID_Link_ChunkCycle
	MsgID_Link_InternalError

	MsgID_END // Keep this at the end (used only for tests)
)

func StringToMsgIDs(str string, logLevel LogLevel, overrides map[MsgID]LogLevel) {
	switch str {
	case "unresolved-import":
		overrides[MsgID_Scan_UnresolvedImport] = logLevel
	case "load-failed":
		overrides[MsgID_Scan_LoadFailed] = logLevel
	case "parse-failed":
		overrides[MsgID_Scan_ParseFailed] = logLevel
	case "ignored-unresolved-import":
		overrides[MsgID_Scan_IgnoredUnresolvedImport] = logLevel

	case "no-matching-export":
		overrides[MsgID_Link_NoMatchingExport] = logLevel
	case "circular-reexport":
		overrides[MsgID_Link_CircularReexport] = logLevel
	case "ambiguous-export":
		overrides[MsgID_Link_AmbiguousExport] = logLevel
	case "import-is-undefined":
		overrides[MsgID_Link_ImportIsUndefined] = logLevel
	case "circular-dependency":
		overrides[MsgID_Link_CircularDependency] = logLevel
	case "ineffective-dynamic-import":
		overrides[MsgID_Link_IneffectiveDynamicImport] = logLevel
	case "chunk-cycle":
		overrides[MsgID_Link_ChunkCycle] = logLevel
	case "internal-error":
		overrides[MsgID_Link_InternalError] = logLevel

	// Groups
	case "scan":
		for id := MsgID_Scan_UnresolvedImport; id <= MsgID_Scan_IgnoredUnresolvedImport; id++ {
			overrides[id] = logLevel
		}
	case "link":
		for id := MsgID_Link_NoMatchingExport; id <= MsgID_Link_InternalError; id++ {
			overrides[id] = logLevel
		}
	}
}

func MsgIDToString(id MsgID) string {
	switch id {
	case MsgID_Scan_UnresolvedImport:
		return "unresolved-import"
	case MsgID_Scan_LoadFailed:
		return "load-failed"
	case MsgID_Scan_ParseFailed:
		return "parse-failed"
	case MsgID_Scan_IgnoredUnresolvedImport:
		return "ignored-unresolved-import"

	case MsgID_Link_NoMatchingExport:
		return "no-matching-export"
	case MsgID_Link_CircularReexport:
		return "circular-reexport"
	case MsgID_Link_AmbiguousExport:
		return "ambiguous-export"
	case MsgID_Link_ImportIsUndefined:
		return "import-is-undefined"
	case MsgID_Link_CircularDependency:
		return "circular-dependency"
	case MsgID_Link_IneffectiveDynamicImport:
		return "ineffective-dynamic-import"
	case MsgID_Link_ChunkCycle:
		return "chunk-cycle"
	case MsgID_Link_InternalError:
		return "internal-error"
	}

	return ""
}
