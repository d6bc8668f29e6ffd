package catalog

import (
	"fmt"
	"strings"
	"time"
)

// MaxStatementBytes is Athena's limit on the length of one query string.
const MaxStatementBytes = 262144

// createTableTemplate is the CloudTrail table as Athena's CloudTrail console
// integration defines it. Partition keys follow the delivery layout
// <region>/<yyyy>/<mm>/<dd>/.
const createTableTemplate = "CREATE EXTERNAL TABLE IF NOT EXISTS `%s` (\n" +
	"    `eventversion` string COMMENT 'from deserializer',\n" +
	"    `useridentity` struct<type:string,principalid:string,arn:string,accountid:string,invokedby:string,accesskeyid:string,username:string,sessioncontext:struct<attributes:struct<mfaauthenticated:string,creationdate:string>,sessionissuer:struct<type:string,principalid:string,arn:string,accountid:string,username:string>>> COMMENT 'from deserializer',\n" +
	"    `eventtime` string COMMENT 'from deserializer',\n" +
	"    `eventsource` string COMMENT 'from deserializer',\n" +
	"    `eventname` string COMMENT 'from deserializer',\n" +
	"    `awsregion` string COMMENT 'from deserializer',\n" +
	"    `sourceipaddress` string COMMENT 'from deserializer',\n" +
	"    `useragent` string COMMENT 'from deserializer',\n" +
	"    `errorcode` string COMMENT 'from deserializer',\n" +
	"    `errormessage` string COMMENT 'from deserializer',\n" +
	"    `requestparameters` string COMMENT 'from deserializer',\n" +
	"    `responseelements` string COMMENT 'from deserializer',\n" +
	"    `additionaleventdata` string COMMENT 'from deserializer',\n" +
	"    `requestid` string COMMENT 'from deserializer',\n" +
	"    `eventid` string COMMENT 'from deserializer',\n" +
	"    `resources` array<struct<arn:string,accountid:string,type:string>> COMMENT 'from deserializer',\n" +
	"    `eventtype` string COMMENT 'from deserializer',\n" +
	"    `apiversion` string COMMENT 'from deserializer',\n" +
	"    `readonly` string COMMENT 'from deserializer',\n" +
	"    `recipientaccountid` string COMMENT 'from deserializer',\n" +
	"    `serviceeventdetails` string COMMENT 'from deserializer',\n" +
	"    `sharedeventid` string COMMENT 'from deserializer',\n" +
	"    `vpcendpointid` string COMMENT 'from deserializer')\n" +
	"PARTITIONED BY (region string, year string, month string, day string)\n" +
	"ROW FORMAT SERDE\n" +
	"    'com.amazon.emr.hive.serde.CloudTrailSerde'\n" +
	"STORED AS INPUTFORMAT\n" +
	"    'com.amazon.emr.cloudtrail.CloudTrailInputFormat'\n" +
	"OUTPUTFORMAT\n" +
	"    'org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat'\n" +
	"LOCATION '%s'"

// TableName is the table holding one account's logs.
func TableName(prefix, accountID string) string {
	return prefix + "_" + accountID
}

// TableLocation is the CloudTrail folder of an account. pathPrefix is the
// account folder and ends in "/".
func TableLocation(bucket, pathPrefix string) string {
	return fmt.Sprintf("s3://%s/%sCloudTrail/", bucket, pathPrefix)
}

// CreateTableStatement defines table over the logs at location.
func CreateTableStatement(table, location string) string {
	return fmt.Sprintf(createTableTemplate, table, location)
}

// Partition is one (region, day) coordinate of a table.
type Partition struct {
	Region string
	Year   string
	Month  string
	Day    string
}

// NewPartition builds the coordinate of region on the calendar day of t.
func NewPartition(region string, t time.Time) Partition {
	return Partition{
		Region: region,
		Year:   fmt.Sprintf("%04d", t.Year()),
		Month:  fmt.Sprintf("%02d", int(t.Month())),
		Day:    fmt.Sprintf("%02d", t.Day()),
	}
}

// Location is where CloudTrail delivers this partition's files below the
// table location.
func (p Partition) Location(tableLocation string) string {
	return fmt.Sprintf("%s%s/%s/%s/%s/", tableLocation, p.Region, p.Year, p.Month, p.Day)
}

// Clause is the PARTITION ... LOCATION fragment of ALTER TABLE ADD.
func (p Partition) Clause(tableLocation string) string {
	return fmt.Sprintf("PARTITION (region='%s',year='%s',month='%s',day='%s') LOCATION '%s'",
		p.Region, p.Year, p.Month, p.Day, p.Location(tableLocation))
}

// Partitions is the cross product of days and regions, day-major.
func Partitions(regions []string, days []time.Time) []Partition {
	parts := make([]Partition, 0, len(regions)*len(days))
	for _, d := range days {
		for _, r := range regions {
			parts = append(parts, NewPartition(r, d))
		}
	}
	return parts
}

// PartitionBatch is one ALTER TABLE ... ADD IF NOT EXISTS statement and the
// number of partitions it registers.
type PartitionBatch struct {
	Statement  string
	Partitions int
}

// AddPartitionsBatches registers parts on table with as few statements as
// Athena's length limit allows; normally that is exactly one.
func AddPartitionsBatches(table, tableLocation string, parts []Partition) []PartitionBatch {
	if len(parts) == 0 {
		return nil
	}

	header := fmt.Sprintf("ALTER TABLE %s ADD IF NOT EXISTS\n", table)
	var batches []PartitionBatch
	var b strings.Builder
	b.WriteString(header)
	count := 0

	for _, p := range parts {
		clause := p.Clause(tableLocation) + "\n"
		if count > 0 && b.Len()+len(clause) > MaxStatementBytes {
			batches = append(batches, PartitionBatch{Statement: b.String(), Partitions: count})
			b.Reset()
			b.WriteString(header)
			count = 0
		}
		b.WriteString(clause)
		count++
	}
	return append(batches, PartitionBatch{Statement: b.String(), Partitions: count})
}

// DropViewStatement removes the cross-account view if it exists.
func DropViewStatement(view string) string {
	return "DROP VIEW IF EXISTS " + view
}

// ViewStatement defines view as the UNION ALL of every table, in order.
func ViewStatement(view string, tables []string) string {
	selects := make([]string, len(tables))
	for i, t := range tables {
		selects[i] = "SELECT * FROM " + t
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", view, strings.Join(selects, " UNION ALL "))
}
