package monitor

import "strconv"

// ServiceType identifies the kind of connection pool behind a DataSourceMonitor.
// The zero value means the monitor did not report a type.
type ServiceType struct {
	Code int16
	Name string
}

// ServiceTypeUnknown is reported by a MonitorHandle whose monitor has been reclaimed.
var ServiceTypeUnknown = ServiceType{Code: -1, Name: "UNKNOWN"}

// Well-known connection pool types
var (
	ServiceTypeSQLDB      = ServiceType{Code: 6050, Name: "DATABASE_SQL"}
	ServiceTypeDBCP       = ServiceType{Code: 6051, Name: "DBCP"}
	ServiceTypeDBCP2      = ServiceType{Code: 6052, Name: "DBCP2"}
	ServiceTypeHikariCP   = ServiceType{Code: 6060, Name: "HIKARICP"}
	ServiceTypeDruid      = ServiceType{Code: 6080, Name: "DRUID"}
	ServiceTypeTomcatJDBC = ServiceType{Code: 6062, Name: "TOMCAT_JDBC"}
)

// IsZero reports whether the service type was left unset.
func (s ServiceType) IsZero() bool {
	return s == ServiceType{}
}

func (s ServiceType) String() string {
	if s.IsZero() {
		return ""
	}
	return s.Name + "(" + strconv.Itoa(int(s.Code)) + ")"
}
